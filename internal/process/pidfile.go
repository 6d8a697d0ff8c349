package process

import (
	"os"
	"strconv"
	"strings"
)

// ReadPIDFile reads a PID file written by Process.WritePIDFile. The file
// holds a single line with the decimal PID.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	first, _, _ := strings.Cut(string(b), "\n")
	return strconv.Atoi(strings.TrimSpace(first))
}
