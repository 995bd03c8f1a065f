package version

import (
	"runtime"
)

// Generic tool info
const ProductName string = "lambdamap"

// Revision that was compiled. This will be filled in by the compiler.
var Revision string

// BuildDate is when the binary was compiled. This will be filled in
// by the compiler.
var BuildDate string

// Version number that is being run at the moment. Version should use semver.
var Version string

// Info - version info
type Info struct {
	Name      string
	Version   string
	Revision  string
	BuildDate string
	GoVersion string
	OS        string
	Arch      string
}

// Get returns version info
func Get() Info {
	return Info{
		Name:      ProductName,
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
