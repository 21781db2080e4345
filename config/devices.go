package config

import "github.com/hazyhaar/visreg/matrix"

// DefaultDevices is used when the configuration lists none.
func DefaultDevices() []matrix.DeviceProfile {
	return []matrix.DeviceProfile{
		{
			Name:        "Desktop",
			Viewport:    matrix.Viewport{Width: 1920, Height: 1080},
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ScaleFactor: 1,
		},
		{
			Name:        "Laptop",
			Viewport:    matrix.Viewport{Width: 1366, Height: 768},
			UserAgent:   "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ScaleFactor: 1,
		},
		{
			Name:        "Tablet",
			Viewport:    matrix.Viewport{Width: 768, Height: 1024},
			UserAgent:   "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
			Mobile:      true,
			ScaleFactor: 1,
		},
		{
			Name:        "Mobile",
			Viewport:    matrix.Viewport{Width: 375, Height: 667},
			UserAgent:   "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
			Mobile:      true,
			ScaleFactor: 1,
		},
	}
}
