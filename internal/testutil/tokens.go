package testutil

// FixedTokens returns the same batch token for every transaction, so that
// journals of the same scenario are byte-identical.
//
// Implements engine.TokenGenerator. Safe for concurrent use.
type FixedTokens struct {
	token string
}

// NewFixedTokens creates a generator for token. An empty token means
// "test-batch".
func NewFixedTokens(token string) *FixedTokens {
	if token == "" {
		token = "test-batch"
	}
	return &FixedTokens{token: token}
}

// Generate returns the fixed token.
func (g *FixedTokens) Generate() string {
	return g.token
}
