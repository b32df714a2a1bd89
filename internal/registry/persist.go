package registry

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/cuemby/fleetd/internal/obsmetrics"
)

// Snapshot writes each shard's partition to "registry_shard_<i>.dat" under
// dir. The format is a sequence of records, each a UTF-8 length-prefixed
// (address, workloadName, provider, providerInstanceId) tuple: each of the
// four fields is a uint32 big-endian length prefix followed by that field's
// raw UTF-8 bytes. This
// exact framing is mandated by the external interface contract so that
// restore() round-trips byte-for-byte; it is not a general-purpose
// serialization and intentionally does not reuse a third-party codec.
func (r *Registry) Snapshot(dir string) error {
	timer := obsmetrics.NewTimer()
	defer timer.ObserveDuration(obsmetrics.RegistrySnapshotDuration)

	for i, s := range r.shards {
		path := filepath.Join(dir, fmt.Sprintf("registry_shard_%d.dat", i))
		if err := snapshotShard(s, path); err != nil {
			return fmt.Errorf("snapshot shard %d: %w", i, err)
		}
	}
	return nil
}

func snapshotShard(s *shard, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for address, entry := range s.entries {
		if err := writeField(w, address); err != nil {
			return err
		}
		if err := writeField(w, entry.WorkloadName); err != nil {
			return err
		}
		if err := writeField(w, string(entry.Provider)); err != nil {
			return err
		}
		if err := writeField(w, entry.ProviderInstanceID); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeField(w io.Writer, s string) error {
	b := []byte(s)
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readField(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Restore loads each shard's partition file from dir and merges it into
// that shard's map, then replicates every loaded entry out to all other
// shards so the post-restore registry is fully replicated again. Missing
// files are treated as an empty partition (fresh deployments have none).
func (r *Registry) Restore(dir string) error {
	for i, s := range r.shards {
		path := filepath.Join(dir, fmt.Sprintf("registry_shard_%d.dat", i))
		entries, err := restoreShardFile(path)
		if err != nil {
			return fmt.Errorf("restore shard %d: %w", i, err)
		}
		s.mu.Lock()
		for addr, e := range entries {
			s.entries[addr] = e
		}
		s.mu.Unlock()
	}

	// Replicate the merged view out to every shard.
	merged := make(map[string]Entry)
	r.ForEach(func(address string, entry Entry) {
		merged[address] = entry
	})
	for address, entry := range merged {
		if err := r.Put(address, entry); err != nil {
			return err
		}
	}
	return nil
}

func restoreShardFile(path string) (map[string]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	entries := make(map[string]Entry)
	for {
		address, err := readField(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		workloadName, err := readField(r)
		if err != nil {
			return nil, err
		}
		provider, err := readField(r)
		if err != nil {
			return nil, err
		}
		instanceID, err := readField(r)
		if err != nil {
			return nil, err
		}
		entries[address] = Entry{
			WorkloadName:       workloadName,
			Provider:           fleet.Provider(provider),
			ProviderInstanceID: instanceID,
		}
	}
	return entries, nil
}
