package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/pkg/model"
)

func TestDefaultHostResolver_PrefersMetaResolverHint(t *testing.T) {
	meta := &model.PipelineMeta{Resolver: "https://hinted-host:9000"}

	host, err := DefaultHostResolver{}.Resolve("https://ignored-host/svc", meta)

	require.NoError(t, err)
	assert.Equal(t, "https://hinted-host:9000", host)
}

func TestDefaultHostResolver_ParsesTargetIDAsURL(t *testing.T) {
	host, err := DefaultHostResolver{}.Resolve("http://worker-3.internal:8081/nodes/svc-a", nil)

	require.NoError(t, err)
	assert.Equal(t, "http://worker-3.internal:8081", host)
}

func TestDefaultHostResolver_UnparsableTargetErrors(t *testing.T) {
	_, err := DefaultHostResolver{}.Resolve("not-a-url", nil)

	assert.Error(t, err)
}

func TestDefaultHostResolver_MissingSchemeErrors(t *testing.T) {
	_, err := DefaultHostResolver{}.Resolve("worker-3.internal/svc-a", nil)

	assert.Error(t, err)
}
