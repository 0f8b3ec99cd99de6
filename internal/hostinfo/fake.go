package hostinfo

// Fake is a configurable Info for tests.
type Fake struct {
	FakeName    string
	FakeVersion string
	FakeBuild   string
	FakePath    string
}

func (f *Fake) Name() string       { return f.FakeName }
func (f *Fake) Version() string    { return f.FakeVersion }
func (f *Fake) Build() string      { return f.FakeBuild }
func (f *Fake) BundlePath() string { return f.FakePath }
