// Stub prober for platforms without an implementation. Every check reports
// an acquisition failure, which the sources treat as "no signal"; detection
// on these platforms relies on filesystem evidence alone.

//go:build !linux && !darwin

package source

// NewSystemProber returns the stub prober.
func NewSystemProber() Prober {
	return stubProber{}
}

type stubProber struct{}

func (stubProber) ProcessRunning([]string) Probe { return Probe{Err: ErrUnsupported} }

func (stubProber) ForegroundApp() Probe { return Probe{Err: ErrUnsupported} }

func (stubProber) HTTPSConnection() Probe { return Probe{Err: ErrUnsupported} }
