package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Sentinel values used when a hardware signal cannot be read. They keep the
// fingerprint deterministic instead of letting a probe failure surface.
const (
	UnknownMotherboard = "unknown-motherboard"
	UnknownMachineID   = "unknown-machine-id"
	NoMACSentinel      = "no-mac"
	GenericBoard       = "generic-board"
)

// DeviceFingerprint represents device identification information.
// Fingerprint is "primary-secondary": 16 hex chars digesting the stable
// hardware tier, 8 hex chars digesting the semi-stable tier.
type DeviceFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	CPUModel    string    `json:"cpu_model"`
	Motherboard string    `json:"motherboard"`
	MachineID   string    `json:"machine_id"`
	OS          string    `json:"os"`
	Platform    string    `json:"platform"`
	Basic       bool      `json:"basic"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintManager handles device fingerprinting operations
type FingerprintManager struct {
	probeTimeout  time.Duration
	cache         *DeviceFingerprint
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewFingerprintManager creates a new fingerprint manager with caching
func NewFingerprintManager(probeTimeout time.Duration) *FingerprintManager {
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}
	return &FingerprintManager{
		probeTimeout:  probeTimeout,
		cacheDuration: 1 * time.Hour,
	}
}

// GenerateFingerprint derives the device identity. It never returns an error:
// if the stable hardware signals cannot be gathered the basic fallback
// fingerprint is produced instead. Note the fallback includes wall-clock time
// and is NOT stable across runs; it is a last resort only.
func (fm *FingerprintManager) GenerateFingerprint() *DeviceFingerprint {
	fm.cacheMutex.RLock()
	if fm.cache != nil && time.Now().Before(fm.cacheExpiry) {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return &cached
	}
	fm.cacheMutex.RUnlock()

	fp := fm.generate()

	fm.cacheMutex.Lock()
	fm.cache = fp
	fm.cacheExpiry = time.Now().Add(fm.cacheDuration)
	fm.cacheMutex.Unlock()

	return fp
}

func (fm *FingerprintManager) generate() *DeviceFingerprint {
	start := time.Now()

	cpuModel, err := fm.CPUModel()
	if err != nil {
		slog.Warn("failed to read CPU model, using basic fingerprint",
			slog.String("error", err.Error()))
		return fm.basicFingerprint()
	}

	motherboard := fm.MotherboardID()
	machineID := fm.MachineID()

	// Stable tier: signals that survive reboots and network changes.
	stable := []string{
		cpuModel,
		runtime.GOARCH,
		runtime.GOOS,
		motherboard,
		machineID,
	}

	mac := fm.PrimaryMACAddress()
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))

	// Semi-stable tier: signals that can drift (NIC swaps, renames).
	semiStable := []string{
		mac,
		hostname,
		fmt.Sprintf("%s-%s", runtime.GOOS, osRelease()),
	}

	primary := digestHex(strings.Join(stable, "|"), 16)
	secondary := digestHex(strings.Join(semiStable, "|"), 8)

	fp := &DeviceFingerprint{
		Fingerprint: primary + "-" + secondary,
		Hostname:    hostname,
		MACAddress:  mac,
		CPUModel:    cpuModel,
		Motherboard: motherboard,
		MachineID:   machineID,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		GeneratedAt: time.Now(),
	}

	slog.Debug("device fingerprint generated",
		slog.String("fingerprint", fp.Fingerprint),
		slog.String("hostname", hostname),
		slog.Duration("generation_time", time.Since(start)),
	)

	return fp
}

// basicFingerprint is the last-resort identity: it folds in the current
// timestamp, so two runs produce different values.
func (fm *FingerprintManager) basicFingerprint() *DeviceFingerprint {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	parts := []string{
		runtime.GOOS,
		runtime.GOARCH,
		hostname,
		fmt.Sprintf("%d", runtime.NumCPU()),
		fmt.Sprintf("%d", time.Now().UnixNano()),
	}

	return &DeviceFingerprint{
		Fingerprint: digestHex(strings.Join(parts, "|"), 24),
		Hostname:    hostname,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		Basic:       true,
		GeneratedAt: time.Now(),
	}
}

// CPUModel returns the normalized CPU model string for the current platform.
func (fm *FingerprintManager) CPUModel() (string, error) {
	switch runtime.GOOS {
	case "linux":
		data, err := os.ReadFile("/proc/cpuinfo")
		if err != nil {
			return "", fmt.Errorf("failed to read cpuinfo: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "model name") {
				if _, value, ok := strings.Cut(line, ":"); ok {
					return normalizeWhitespace(value), nil
				}
			}
		}
		return "", fmt.Errorf("no model name in cpuinfo")
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return normalizeWhitespace(procID), nil
		}
		return "", fmt.Errorf("PROCESSOR_IDENTIFIER not set")
	case "darwin":
		out, err := fm.runProbe("sysctl", "-n", "machdep.cpu.brand_string")
		if err != nil {
			return "", fmt.Errorf("failed to query cpu brand: %w", err)
		}
		return normalizeWhitespace(out), nil
	default:
		// No portable CPU model source; fall back to GOOS/GOARCH.
		return fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH), nil
	}
}

// MotherboardID returns a motherboard identifier. Only Windows carries a real
// probe; other platforms report a generic placeholder. The subprocess runs
// under the configured timeout and any failure maps to a sentinel so the
// probe can never block or fail the caller.
func (fm *FingerprintManager) MotherboardID() string {
	if runtime.GOOS != "windows" {
		return GenericBoard
	}

	out, err := fm.runProbe("wmic", "baseboard", "get", "serialnumber")
	if err != nil {
		slog.Warn("motherboard probe failed, using sentinel",
			slog.String("error", err.Error()))
		return UnknownMotherboard
	}

	// wmic prints a "SerialNumber" header line before the value.
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "SerialNumber") {
			continue
		}
		return line
	}
	return UnknownMotherboard
}

// MachineID returns the OS-assigned machine-unique identifier.
func (fm *FingerprintManager) MachineID() string {
	switch runtime.GOOS {
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
			if data, err := os.ReadFile(path); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return id
				}
			}
		}
	case "darwin":
		out, err := fm.runProbe("ioreg", "-rd1", "-c", "IOPlatformExpertDevice")
		if err == nil {
			for _, line := range strings.Split(out, "\n") {
				if strings.Contains(line, "IOPlatformUUID") {
					if parts := strings.Split(line, "\""); len(parts) >= 4 {
						return parts[3]
					}
				}
			}
		}
	case "windows":
		out, err := fm.runProbe("reg", "query",
			`HKLM\SOFTWARE\Microsoft\Cryptography`, "/v", "MachineGuid")
		if err == nil {
			fields := strings.Fields(out)
			if len(fields) > 0 {
				return fields[len(fields)-1]
			}
		}
	}
	return UnknownMachineID
}

// PrimaryMACAddress returns the MAC of the primary network interface,
// preferring wired/ethernet-named interfaces before falling back to the
// first interface exposing a non-zero MAC.
func (fm *FingerprintManager) PrimaryMACAddress() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return NoMACSentinel
	}

	for _, iface := range interfaces {
		if !isEthernetName(iface.Name) {
			continue
		}
		if mac := usableMAC(iface); mac != "" {
			return mac
		}
	}

	for _, iface := range interfaces {
		if mac := usableMAC(iface); mac != "" {
			return mac
		}
	}

	return NoMACSentinel
}

func (fm *FingerprintManager) runProbe(name string, args ...string) (string, error) {
	ctx, cancel := probeContext(fm.probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func isEthernetName(name string) bool {
	name = strings.ToLower(name)
	for _, prefix := range []string{"eth", "en", "eno", "ens", "enp"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return strings.Contains(name, "ethernet")
}

func usableMAC(iface net.Interface) string {
	if iface.Flags&net.FlagLoopback != 0 {
		return ""
	}
	if len(iface.HardwareAddr) == 0 {
		return ""
	}
	mac := iface.HardwareAddr.String()
	if mac == "" || mac == "00:00:00:00:00:00" {
		return ""
	}
	return mac
}

func osRelease() string {
	if runtime.GOOS == "linux" {
		if data, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return runtime.GOOS
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func digestHex(data string, chars int) string {
	sum := sha256.Sum256([]byte(data))
	encoded := hex.EncodeToString(sum[:])
	if chars > len(encoded) {
		chars = len(encoded)
	}
	return encoded[:chars]
}

// ClearCache clears the cached fingerprint
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()

	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}
