package device

import (
	"bufio"
	"math"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"warden/internal/types"
)

// RuntimeHost reports the passive facts of the machine the agent runs on.
type RuntimeHost struct {
	Agent string
}

func (h RuntimeHost) UserAgent() string {
	return h.Agent + " (" + runtime.GOOS + "; " + runtime.GOARCH + "; " + runtime.Version() + ")"
}

func (h RuntimeHost) Environment() types.Environment {
	var env types.Environment
	env.Screen.ColorDepth = 24
	env.Screen.PixelRatio = 1
	env.Hardware.Concurrency = runtime.NumCPU()
	env.Hardware.MemoryGB = deviceMemory()
	env.Hardware.Platform = runtime.GOOS
	env.Hardware.Arch = runtime.GOARCH

	env.Language, env.Languages = locale()
	name, offset := time.Now().Zone()
	env.Timezone = time.Local.String()
	if env.Timezone == "Local" {
		env.Timezone = name
	}
	// Minutes behind UTC, positive west of Greenwich.
	env.TZOffset = -offset / 60

	env.Features = map[string]bool{
		"ipv6":     hasIPv6(),
		"terminal": os.Getenv("TERM") != "",
		"touch":    false,
	}
	return env
}

func locale() (string, []string) {
	raw := ""
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			raw = v
			break
		}
	}
	if raw == "" || raw == "C" || raw == "POSIX" {
		return "en-US", []string{"en-US"}
	}
	tag, _, _ := strings.Cut(raw, ".")
	tag = strings.ReplaceAll(tag, "_", "-")
	langs := []string{tag}
	if base, _, ok := strings.Cut(tag, "-"); ok {
		langs = append(langs, base)
	}
	return tag, langs
}

// deviceMemory buckets total RAM to a power of two capped at 8 GiB, the
// coarse granularity browsers expose.
func deviceMemory() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0
		}
		gb := kb / (1024 * 1024)
		bucket := math.Pow(2, math.Floor(math.Log2(gb)))
		return math.Min(math.Max(bucket, 0.25), 8)
	}
	return 0
}

func hasIPv6() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		logrus.WithError(err).Debug("RuntimeHost: cannot list interface addresses")
		return false
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() == nil && !ipnet.IP.IsLoopback() {
			return true
		}
	}
	return false
}

func logger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}
