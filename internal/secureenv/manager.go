// Package secureenv builds the environment a stdio-launched MCP server
// subprocess runs under. Rather than forwarding the core's own process
// environment wholesale to an arbitrary config-supplied command, it
// starts from an allow-listed subset of the host environment and widens
// PATH with the install locations common per-language tool launchers
// (npx, uvx, cargo-run binaries) expect to find, so a server started
// under `exec.Command` resolves the same binaries an interactive shell
// would.
package secureenv

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	osWindows = "windows"
	osDarwin  = "darwin"
)

// AllowList controls which host environment variables a spawned server
// subprocess is allowed to inherit.
type AllowList struct {
	InheritSystemSafe bool
	AllowedSystemVars []string
}

// PathDiscovery holds the per-language tool install locations found on
// this host, used to widen a spawned subprocess's PATH.
type PathDiscovery struct {
	HomePath        string
	BrewPaths       []string
	NodePaths       []string
	PythonPaths     []string
	RustPaths       []string
	GoPaths         []string
	SystemPaths     []string
	DiscoveredPaths []string
}

// DefaultAllowList returns the variables safe to forward to any spawned
// subprocess: locale, shell, and interpreter-discovery variables, never
// anything credential-shaped.
func DefaultAllowList() *AllowList {
	allowedVars := []string{
		"PATH", "HOME", "TMPDIR", "TEMP", "TMP",
		"SHELL", "TERM", "LANG", "USER", "USERNAME",
	}

	if runtime.GOOS == osWindows {
		allowedVars = append(allowedVars,
			"USERPROFILE", "APPDATA", "LOCALAPPDATA", "PROGRAMFILES", "SYSTEMROOT", "COMSPEC",
		)
	} else {
		allowedVars = append(allowedVars,
			"XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_CACHE_HOME", "XDG_RUNTIME_DIR",
		)
	}

	allowedVars = append(allowedVars,
		"LC_ALL", "LC_CTYPE", "LC_NUMERIC", "LC_TIME", "LC_COLLATE",
		"LC_MONETARY", "LC_MESSAGES", "LC_PAPER", "LC_NAME", "LC_ADDRESS",
		"LC_TELEPHONE", "LC_MEASUREMENT", "LC_IDENTIFICATION",
	)

	return &AllowList{InheritSystemSafe: true, AllowedSystemVars: allowedVars}
}

// Manager builds the env slice for one spawned subprocess.
type Manager struct {
	allow *AllowList
	paths *PathDiscovery
}

// NewManager builds a Manager from allow, discovering tool paths on this
// host immediately. A nil allow uses DefaultAllowList.
func NewManager(allow *AllowList) *Manager {
	if allow == nil {
		allow = DefaultAllowList()
	}
	return &Manager{allow: allow, paths: discoverPaths()}
}

func discoverPaths() *PathDiscovery {
	homeDir, _ := os.UserHomeDir()
	discovery := &PathDiscovery{HomePath: homeDir}

	switch runtime.GOOS {
	case osDarwin:
		discoverMacOSPaths(discovery)
	case osWindows:
		discoverWindowsPaths(discovery)
	default:
		discoverUnixPaths(discovery)
	}

	discovery.DiscoveredPaths = buildDiscoveredPaths(discovery)
	return discovery
}

func discoverMacOSPaths(d *PathDiscovery) {
	d.SystemPaths = []string{"/usr/bin", "/bin", "/usr/sbin", "/sbin", "/usr/local/bin", "/usr/local/sbin"}

	for _, p := range []string{"/opt/homebrew/bin", "/opt/homebrew/sbin", "/usr/local/bin", "/usr/local/sbin"} {
		if pathExists(p) {
			d.BrewPaths = append(d.BrewPaths, p)
		}
	}

	if d.HomePath != "" {
		for _, pattern := range []string{
			filepath.Join(d.HomePath, ".nvm/versions/node/*/bin"),
			filepath.Join(d.HomePath, ".fnm/versions/*/installation/bin"),
		} {
			d.NodePaths = append(d.NodePaths, expandGlobPath(pattern)...)
		}
		if voltaBin := filepath.Join(d.HomePath, ".volta/bin"); pathExists(voltaBin) {
			d.NodePaths = append(d.NodePaths, voltaBin)
		}

		for _, pattern := range []string{
			filepath.Join(d.HomePath, ".pyenv/versions/*/bin"),
			filepath.Join(d.HomePath, "Library/Python/*/bin"),
		} {
			d.PythonPaths = append(d.PythonPaths, expandGlobPath(pattern)...)
		}
		if pipUserBin := filepath.Join(d.HomePath, ".local/bin"); pathExists(pipUserBin) {
			d.PythonPaths = append(d.PythonPaths, pipUserBin)
		}

		if cargoBin := filepath.Join(d.HomePath, ".cargo/bin"); pathExists(cargoBin) {
			d.RustPaths = append(d.RustPaths, cargoBin)
		}
	}

	goPaths := []string{"/usr/local/go/bin"}
	if d.HomePath != "" {
		goPaths = append(goPaths, filepath.Join(d.HomePath, "go/bin"))
	}
	for _, p := range goPaths {
		if pathExists(p) {
			d.GoPaths = append(d.GoPaths, p)
		}
	}
}

func discoverWindowsPaths(d *PathDiscovery) {
	d.SystemPaths = []string{
		`C:\Windows\System32`, `C:\Windows`, `C:\Windows\System32\Wbem`,
		`C:\Windows\System32\WindowsPowerShell\v1.0\`,
	}
	if regPaths := discoverWindowsPathsFromRegistry(); len(regPaths) > 0 {
		d.SystemPaths = append(regPaths, d.SystemPaths...)
	}
	for _, p := range []string{`C:\Program Files\Git\bin`, `C:\Program Files\nodejs`, `C:\Program Files (x86)\nodejs`} {
		if pathExists(p) {
			d.NodePaths = append(d.NodePaths, p)
		}
	}
}

func discoverUnixPaths(d *PathDiscovery) {
	d.SystemPaths = []string{"/usr/bin", "/bin", "/usr/sbin", "/sbin", "/usr/local/bin", "/usr/local/sbin"}
}

// buildDiscoveredPaths orders tool paths so a user-installed interpreter
// takes precedence over whatever ships with the OS.
func buildDiscoveredPaths(d *PathDiscovery) []string {
	var paths []string
	paths = append(paths, d.BrewPaths...)
	paths = append(paths, d.NodePaths...)
	paths = append(paths, d.PythonPaths...)
	paths = append(paths, d.RustPaths...)
	paths = append(paths, d.GoPaths...)
	paths = append(paths, d.SystemPaths...)
	return removeDuplicatePaths(paths)
}

// ForSubprocess builds the env slice for a stdio server's spawned
// process: the allow-listed host environment with PATH widened, then
// that server's own config-supplied overrides layered on top so they
// win over anything inherited.
func (m *Manager) ForSubprocess(overrides map[string]string) []string {
	var env []string
	if m.allow.InheritSystemSafe {
		env = m.filteredSystemEnv()
	}
	env = m.withWidenedPath(env)
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

func (m *Manager) withWidenedPath(env []string) []string {
	var existingPath string
	pathIndex := -1
	for i, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			existingPath = strings.TrimPrefix(e, "PATH=")
			pathIndex = i
			break
		}
	}

	enhanced := m.buildEnhancedPath(existingPath)
	pathVar := "PATH=" + enhanced
	if pathIndex >= 0 {
		env[pathIndex] = pathVar
	} else {
		env = append(env, pathVar)
	}
	return env
}

func (m *Manager) buildEnhancedPath(existingPath string) string {
	components := append([]string{}, m.paths.DiscoveredPaths...)

	if existingPath != "" {
		for _, c := range strings.Split(existingPath, string(os.PathListSeparator)) {
			c = strings.TrimSpace(c)
			if c != "" && !containsPath(components, c) {
				components = append(components, c)
			}
		}
	}

	valid := make([]string, 0, len(components))
	seen := make(map[string]bool, len(components))
	for _, p := range components {
		if p != "" && !seen[p] && pathExists(p) {
			valid = append(valid, p)
			seen[p] = true
		}
	}
	return strings.Join(valid, string(os.PathListSeparator))
}

func (m *Manager) filteredSystemEnv() []string {
	var filtered []string
	for _, envVar := range os.Environ() {
		if m.isEnvVarAllowed(envVar) {
			filtered = append(filtered, envVar)
		}
	}
	return filtered
}

func (m *Manager) isEnvVarAllowed(envVar string) bool {
	key, _, ok := strings.Cut(envVar, "=")
	if !ok {
		return false
	}
	for _, allowed := range m.allow.AllowedSystemVars {
		if key == allowed {
			return true
		}
		if prefix, isWildcard := strings.CutSuffix(allowed, "*"); isWildcard && strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func pathExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func expandGlobPath(pattern string) []string {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	var valid []string
	for _, m := range matches {
		if pathExists(m) {
			valid = append(valid, m)
		}
	}
	return valid
}

func removeDuplicatePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	var unique []string
	for _, p := range paths {
		if p != "" && !seen[p] {
			unique = append(unique, p)
			seen[p] = true
		}
	}
	return unique
}

func containsPath(paths []string, target string) bool {
	for _, p := range paths {
		if p == target {
			return true
		}
	}
	return false
}
