package domain

import (
	"strings"
)

// Network pins the chain-identifier dependent behaviour: signing chain id and explorer links.
type Network struct {
	Name        string `json:"name"`
	ChainID     int64  `json:"chain_id"`
	ExplorerURL string `json:"explorer_url"`
}

var (
	Mainnet = Network{Name: "mainnet", ChainID: 1, ExplorerURL: "https://etherscan.io"}
	Sepolia = Network{Name: "sepolia", ChainID: 11155111, ExplorerURL: "https://sepolia.etherscan.io"}
	Rinkeby = Network{Name: "rinkeby", ChainID: 4, ExplorerURL: "https://rinkeby.etherscan.io"}
)

var knownNetworks = map[string]Network{
	Mainnet.Name: Mainnet,
	Sepolia.Name: Sepolia,
	Rinkeby.Name: Rinkeby,
}

func NetworkByName(name string) (Network, bool) {
	n, ok := knownNetworks[strings.ToLower(name)]
	return n, ok
}

// TxURL returns the explorer link for hash, or "" when no explorer is configured.
func (n Network) TxURL(hash Hash) string {
	if n.ExplorerURL == "" || hash.IsZero() {
		return ""
	}
	return strings.TrimSuffix(n.ExplorerURL, "/") + "/tx/" + hash.String()
}
