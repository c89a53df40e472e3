package modes

import "sync"

// Flags holds the operator-controlled runtime switches: active mode, testnet vs
// real environment, simulation mode, and the trading kill switch. The command
// surface (chat/dashboard) calls these setters; the engine only reads.
type Flags struct {
	mu             sync.RWMutex
	mode           string
	testnet        bool
	simulation     bool
	tradingEnabled bool
}

// NewFlags creates runtime flags. Trading starts enabled on testnet.
func NewFlags(mode string) *Flags {
	return &Flags{
		mode:           mode,
		testnet:        true,
		tradingEnabled: true,
	}
}

// Mode returns the active trading mode.
func (f *Flags) Mode() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode
}

// SetMode switches the active trading mode.
func (f *Flags) SetMode(mode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
}

// Testnet reports whether the engine runs against the test environment.
func (f *Flags) Testnet() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.testnet
}

// SetTestnet switches between testnet and real environment.
func (f *Flags) SetTestnet(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testnet = v
}

// Simulation reports whether order intents are dropped instead of placed.
func (f *Flags) Simulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.simulation
}

// SetSimulation toggles simulation mode.
func (f *Flags) SetSimulation(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulation = v
}

// TradingEnabled reports the global kill switch.
func (f *Flags) TradingEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tradingEnabled
}

// SetTradingEnabled flips the global kill switch.
func (f *Flags) SetTradingEnabled(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradingEnabled = v
}
