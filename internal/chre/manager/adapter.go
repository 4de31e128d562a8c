package manager

import "github.com/ctxhub/chre-runtime/internal/platform"

// WifiScanMonitorPlatform adapts a platform.WifiHAL to the Platform
// interface RequestManager expects, so the scan-monitor request manager
// can sit directly atop the HAL trait without either package depending
// on the other's naming.
type WifiScanMonitorPlatform struct {
	HAL platform.WifiHAL
}

func (p WifiScanMonitorPlatform) Configure(enable bool) error {
	return p.HAL.ConfigureScanMonitor(enable)
}
