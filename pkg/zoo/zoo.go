// Package zoo maps model identifiers to their published checkpoints and
// network constructors, and resolves them to local weight files.
package zoo

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"srtile/pkg/network"
)

// ErrUnknownModel is returned for identifiers missing from the registry
var ErrUnknownModel = errors.New("unknown model")

// ModelID identifies a published enhancement model
type ModelID string

const (
	RealESRGeneralX4V3      ModelID = "realesr-general-x4v3"
	RealESRGANX4Plus        ModelID = "RealESRGAN_x4plus"
	RealESRGANX4PlusAnime6B ModelID = "RealESRGAN_x4plus_anime_6B"
)

// Architecture names a network family
type Architecture string

const (
	ArchCompact Architecture = "srvggnet-compact"
	ArchRRDB    Architecture = "rrdbnet"
)

// ModelSpec describes where a model comes from and how to build its network
type ModelSpec struct {
	ID    ModelID
	URL   string
	MD5   string
	Scale int
	Arch  Architecture

	// Exactly one of Compact and RRDB is set, matching Arch
	Compact *network.CompactParams
	RRDB    *network.RRDBParams
}

// FileName is the checkpoint's file name as published
func (s ModelSpec) FileName() string {
	return path.Base(s.URL)
}

// LocalName is the file name of the checkpoint converted to safetensors
func (s ModelSpec) LocalName() string {
	return strings.TrimSuffix(s.FileName(), path.Ext(s.FileName())) + ".safetensors"
}

// NewNetwork constructs an unloaded network for the model
func (s ModelSpec) NewNetwork() (network.Network, error) {
	switch s.Arch {
	case ArchCompact:
		if s.Compact == nil {
			return nil, fmt.Errorf("model %s: missing compact parameters", s.ID)
		}
		return network.NewSRVGGNetCompact(*s.Compact)
	case ArchRRDB:
		if s.RRDB == nil {
			return nil, fmt.Errorf("model %s: missing RRDB parameters", s.ID)
		}
		return network.NewRRDBNet(*s.RRDB)
	default:
		return nil, fmt.Errorf("model %s: unknown architecture %q", s.ID, s.Arch)
	}
}

var (
	mu       sync.RWMutex
	registry = map[ModelID]ModelSpec{
		RealESRGeneralX4V3: {
			ID:    RealESRGeneralX4V3,
			URL:   "https://github.com/xinntao/Real-ESRGAN/releases/download/v0.2.5.0/realesr-general-x4v3.pth",
			MD5:   "91a7644643c884ee00737db24e478156",
			Scale: 4,
			Arch:  ArchCompact,
			Compact: &network.CompactParams{
				NumInCh:  3,
				NumOutCh: 3,
				NumFeat:  64,
				NumConv:  32,
				Upscale:  4,
				ActType:  network.ActPReLU,
			},
		},
		RealESRGANX4Plus: {
			ID:    RealESRGANX4Plus,
			URL:   "https://github.com/xinntao/Real-ESRGAN/releases/download/v0.1.0/RealESRGAN_x4plus.pth",
			MD5:   "99ec365d4afad750833258a1a24f44ca",
			Scale: 4,
			Arch:  ArchRRDB,
			RRDB: &network.RRDBParams{
				NumInCh:   3,
				NumOutCh:  3,
				Scale:     4,
				NumFeat:   64,
				NumBlock:  23,
				NumGrowCh: 32,
			},
		},
		RealESRGANX4PlusAnime6B: {
			ID:    RealESRGANX4PlusAnime6B,
			URL:   "https://github.com/xinntao/Real-ESRGAN/releases/download/v0.2.2.4/RealESRGAN_x4plus_anime_6B.pth",
			MD5:   "d58ce384064ec1591c2ea7b79dbf47ba",
			Scale: 4,
			Arch:  ArchRRDB,
			RRDB: &network.RRDBParams{
				NumInCh:   3,
				NumOutCh:  3,
				Scale:     4,
				NumFeat:   64,
				NumBlock:  6,
				NumGrowCh: 32,
			},
		},
	}
)

// Register adds or replaces a model spec. The network parameters must
// build and agree with the declared scale.
func Register(spec ModelSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("model id must not be empty")
	}
	net, err := spec.NewNetwork()
	if err != nil {
		return err
	}
	if net.Scale() != spec.Scale {
		return fmt.Errorf("model %s: declared scale %d, network scale %d", spec.ID, spec.Scale, net.Scale())
	}

	mu.Lock()
	defer mu.Unlock()
	registry[spec.ID] = spec
	return nil
}

// Lookup returns the model registered for id
func Lookup(id ModelID) (ModelSpec, error) {
	mu.RLock()
	defer mu.RUnlock()
	spec, ok := registry[id]
	if !ok {
		return ModelSpec{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return spec, nil
}

// IDs returns every registered identifier in sorted order
func IDs() []ModelID {
	mu.RLock()
	defer mu.RUnlock()
	ids := make([]ModelID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Resolver turns a model spec into a local checkpoint path
type Resolver interface {
	Resolve(spec ModelSpec) (string, error)
}

// LocalResolver finds converted checkpoints already present in a
// directory. Downloading and conversion are left to the caller.
type LocalResolver struct {
	// Dir holds checkpoints named by ModelSpec.LocalName, optionally with
	// a ".zst" suffix
	Dir string

	// Checksums optionally pins the MD5 of the local file per model
	Checksums map[ModelID]string
}

// Resolve implements Resolver
func (r LocalResolver) Resolve(spec ModelSpec) (string, error) {
	base := filepath.Join(r.Dir, spec.LocalName())
	for _, candidate := range []string{base, base + ".zst"} {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if sum := r.Checksums[spec.ID]; sum != "" {
			if err := VerifyMD5(candidate, sum); err != nil {
				return "", err
			}
		}
		return candidate, nil
	}
	return "", fmt.Errorf("weights for %s not found in %s", spec.ID, r.Dir)
}

// StaticResolver always returns the same path. It suits custom checkpoints
// that do not follow the published naming.
type StaticResolver string

// Resolve implements Resolver
func (s StaticResolver) Resolve(ModelSpec) (string, error) {
	return string(s), nil
}

// VerifyMD5 compares a file's MD5 digest with the expected hex string.
// ModelSpec.MD5 is the digest of the published file.
func VerifyMD5(path, want string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	h := md5.New()
	if _, err := io.Copy(h, file); err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", path, got, want)
	}
	return nil
}
