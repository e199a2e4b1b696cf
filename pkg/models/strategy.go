package models

// NodeDescription describes one verifier or repair node of a strategy
type NodeDescription struct {
	Name         string   `json:"name"`
	Kind         NodeKind `json:"kind"`
	Description  string   `json:"description,omitempty"`
	Dependencies []string `json:"dependencies"`
	Triggers     []string `json:"triggers,omitempty"`
}

// StrategyDescription is the read-only shape of a registered strategy
type StrategyDescription struct {
	Name      string            `json:"name"`
	Order     []string          `json:"order"`
	Verifiers []NodeDescription `json:"verifiers"`
	Repairs   []NodeDescription `json:"repairs"`
}
