package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Dump is the diagnostic record written when the bridge aborts with a core
// dump requested.
type Dump struct {
	ID               string   `cbor:"1,keyasint"`
	Timestamp        int64    `cbor:"2,keyasint"` // unix nanoseconds
	Message          string   `cbor:"3,keyasint"`
	Thread           string   `cbor:"4,keyasint,omitempty"`
	ExceptionClass   string   `cbor:"5,keyasint,omitempty"`
	ExceptionMessage string   `cbor:"6,keyasint,omitempty"`
	Stack            []string `cbor:"7,keyasint,omitempty"`
	HeapUsed         int      `cbor:"8,keyasint"`
	HeapCapacity     int      `cbor:"9,keyasint"`
	Collections      uint64   `cbor:"10,keyasint"`
}

func (d *Dump) stamp() { d.Timestamp = time.Now().UnixNano() }

// Time returns the dump's timestamp.
func (d *Dump) Time() time.Time { return time.Unix(0, d.Timestamp) }

var dumpEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bridge: failed to create CBOR enc mode: %v", err))
	}
	dumpEncMode = em
}

// DumpFileName returns the file name a dump with id is written to.
func DumpFileName(id string) string {
	return "jitbridge-" + id + ".cbor"
}

// WriteDump encodes d into dir and returns the file path.
func WriteDump(dir string, d *Dump) (string, error) {
	data, err := dumpEncMode.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("bridge: marshal dump: %w", err)
	}
	path := filepath.Join(dir, DumpFileName(d.ID))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("bridge: write dump: %w", err)
	}
	return path, nil
}

// ReadDump decodes a dump file.
func ReadDump(path string) (*Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Dump
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("bridge: unmarshal dump: %w", err)
	}
	return &d, nil
}
