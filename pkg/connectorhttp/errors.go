package connectorhttp

import "fmt"

var errMissingChainID = fmt.Errorf("missing chainId query parameter")

func errNodeNotOwned(chainID, targetID string) error {
	return fmt.Errorf("no local node for target %q in chain %q", targetID, chainID)
}
