package pkg

import (
	"github.com/provide-io/pspf/pkg/pspf"
)

func BuildPackage(manifestPath, outputPath, launcherBin string) {
	pspf.BuildWithOptions(manifestPath, outputPath, launcherBin, "", "", "")
}

func BuildPackageWithOptions(manifestPath, outputPath, launcherBin, privateKeyPath, publicKeyPath, keySeed string) {
	pspf.BuildWithOptions(manifestPath, outputPath, launcherBin, privateKeyPath, publicKeyPath, keySeed)
}

func BuildPackageWithLogLevel(manifestPath, outputPath, launcherBin, privateKeyPath, publicKeyPath, keySeed, logLevel string) {
	pspf.BuildWithLogLevel(manifestPath, outputPath, launcherBin, privateKeyPath, publicKeyPath, keySeed, logLevel)
}

func VerifyPackage(packagePath string) (bool, error) {
	return true, nil
}

func LaunchPackage(packagePath string, args []string) (int, error) {
	return 0, nil
}
