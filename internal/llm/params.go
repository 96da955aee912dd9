package llm

// CallParams carries the per-call generation parameters recognized by the
// adapters. Zero values mean "use the adapter default".
type CallParams struct {
	Model             string   `json:"model,omitempty"`
	Temperature       float64  `json:"temperature,omitempty"`
	TemperatureSet    bool     `json:"-"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
	StopSequences     []string `json:"stop_sequences,omitempty"`
	SystemInstruction string   `json:"system_instruction,omitempty"`

	// CacheHandle is an opaque token from PrepareContextForModel. The
	// adapter that produced it knows how to reuse it.
	CacheHandle *ContextHandle `json:"-"`
}

// WithTemperature returns a copy of the params with an explicit temperature.
func (p CallParams) WithTemperature(t float64) CallParams {
	p.Temperature = t
	p.TemperatureSet = true
	return p
}
