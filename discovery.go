// discovery.go
package widowx

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
)

// ErrNoArm is returned when no candidate serial port answers as a WidowX.
var ErrNoArm = errors.New("no WidowX found on any serial port")

// PortChecker reports whether an arm answers on portPath.
type PortChecker func(portPath string) bool

// DiscoverPorts returns the candidate serial ports on which check finds an
// arm, in enumeration order.
func DiscoverPorts(ctx context.Context, check PortChecker, logger logging.Logger) ([]string, error) {
	return discoverPorts(ctx, enumerateSerialPorts(), check, logger)
}

func discoverPorts(ctx context.Context, allPorts []string, check PortChecker, logger logging.Logger) ([]string, error) {
	logger.Debugf("Found %d total serial ports", len(allPorts))
	candidates := filterCandidatePorts(allPorts)
	logger.Debugf("Filtered to %d candidate ports", len(candidates))

	found := []string{}
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			logger.Info("Discovery cancelled")
			return found, ctx.Err()
		default:
		}

		if check(portPath) {
			logger.Infof("Discovered WidowX on %s", portPath)
			found = append(found, portPath)
		} else {
			logger.Debugf("No WidowX servos detected on %s", portPath)
		}
	}
	return found, nil
}

// FindArmPort returns the first port where the base servo of cfg answers a
// ping at cfg's serial settings.
func FindArmPort(ctx context.Context, cfg *Config, logger logging.Logger) (string, error) {
	ports, err := DiscoverPorts(ctx, PingChecker(cfg, logger), logger)
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", ErrNoArm
	}
	if len(ports) > 1 {
		logger.Warnf("Found WidowX servos on %d ports, using %s", len(ports), ports[0])
	}
	return ports[0], nil
}

// PingChecker opens each port with cfg's settings and pings the base servo.
func PingChecker(cfg *Config, logger logging.Logger) PortChecker {
	baseID := 1
	if len(cfg.ServoIDs) > 0 {
		baseID = cfg.ServoIDs[0]
	}
	return func(portPath string) bool {
		checkCfg := *cfg
		checkCfg.Port = portPath
		bus, err := NewSerialBus(&checkCfg, logger)
		if err != nil {
			logger.Debugf("Failed to open port %s: %v", portPath, err)
			return false
		}
		defer bus.Close()
		return bus.Ping(baseID) == nil
	}
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort matches the USB serial adapters an ArbotiX or USB2Dynamixel
// shows up as.
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	for _, prefix := range []string{"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial"} {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	// Windows: COM*
	return strings.HasPrefix(port, "COM")
}

// enumerateSerialPorts returns a list of all serial ports on the system
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	portPaths := make([]string, 0, len(ports))
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
