package afconfig

import (
	"os"

	"github.com/hashicorp/go-envparse"
)

// ReadEnvFile parses name as a ".env"-style file and returns its contents as
// "KEY=VALUE" strings, the same format os.Environ() returns, so it can be
// passed straight to Config.UnmarshalEnv in place of the process
// environment.
func ReadEnvFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	e := make([]string, 0, len(m))
	for k, v := range m {
		e = append(e, k+"="+v)
	}
	return e, nil
}
