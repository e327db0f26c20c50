package commands

import (
	"github.com/sjef-go/sjef/pkg/sjef"
)

// openProject opens (constructing if necessary) the project at path,
// applying the --suffix/--backend persistent flags.
func openProject(path string) (*sjef.Project, error) {
	opts := sjef.DefaultOptions()
	opts.DefaultSuffix = suffixFlag

	p, err := sjef.New(path, opts)
	if err != nil {
		return nil, err
	}

	if backendFlag != "" {
		if err := p.ChangeBackend(backendFlag, false); err != nil {
			p.Close()
			return nil, err
		}
	}

	return p, nil
}
