// Package idgen mints short unique identifiers for platform records
// (alerts, scaling decisions, provisioned nodes) from a Sonyflake
// sequence, encoded base36 for compact log-friendly strings.
package idgen

import (
	"errors"
	"hash/fnv"
	"os"
	"strconv"

	"github.com/sony/sonyflake/v2"
)

// Generator produces unique string IDs. Safe for concurrent use.
type Generator struct {
	sf *sonyflake.Sonyflake
}

// New builds a Generator whose machine ID is derived from the hostname,
// so two processes on different hosts do not collide and a single-host
// deployment still works without any configuration.
func New() (*Generator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{
		MachineID: hostnameMachineID,
	})
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("idgen: sonyflake init failed")
	}
	return &Generator{sf: sf}, nil
}

// NextString returns the next ID in base36.
func (g *Generator) NextString() (string, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 36), nil
}

func hostnameMachineID() (int, error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	// Sonyflake machine IDs are 16-bit.
	return int(h.Sum32() & 0xffff), nil
}
