package version

// Version is the current version of pewshoot.
// This value can be overridden at build time using:
//   go build -ldflags="-X 'github.com/SIgmaboy6796/game2/internal/version.Version=v1.0.0'"
var Version = "dev"
