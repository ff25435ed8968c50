// Package ownership records which user created a world object while in
// creative mode. Presence in the index means the object is still protected.
package ownership

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Staticpast/ModeManager/internal/persistence/atomicfile"
)

const (
	BlocksFile = "creative-blocks.yml"
	FramesFile = "creative-item-frames.yml"
)

// BlockKey is a block position. Its String form is the persistence key.
type BlockKey struct {
	World string `json:"world"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
}

func (k BlockKey) String() string {
	return k.World + "," + strconv.Itoa(k.X) + "," + strconv.Itoa(k.Y) + "," + strconv.Itoa(k.Z)
}

// Valid reports whether k survives a String/ParseBlockKey round trip.
func (k BlockKey) Valid() error {
	if strings.TrimSpace(k.World) == "" {
		return fmt.Errorf("block key: empty world name")
	}
	if strings.Contains(k.World, ",") {
		return fmt.Errorf("block key: world name %q contains a comma", k.World)
	}
	return nil
}

// ParseBlockKey parses "world,x,y,z". World names may not contain commas.
func ParseBlockKey(s string) (BlockKey, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 || strings.TrimSpace(parts[0]) == "" {
		return BlockKey{}, fmt.Errorf("bad block key %q", s)
	}
	var xyz [3]int
	for i, p := range parts[1:] {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return BlockKey{}, fmt.Errorf("bad block key %q: %w", s, err)
		}
		xyz[i] = n
	}
	return BlockKey{World: parts[0], X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

type blocksDoc struct {
	Blocks map[string]string `yaml:"blocks"`
}

type framesDoc struct {
	ItemFrames map[string]string `yaml:"item-frames"`
}

// Index holds the block and object maps. It is safe for concurrent use;
// no operation spans both maps atomically.
type Index struct {
	dir    string
	logger *log.Logger

	bmu    sync.RWMutex
	blocks map[BlockKey]uuid.UUID

	omu     sync.RWMutex
	objects map[uuid.UUID]uuid.UUID

	wmu sync.Mutex
	// held names files that could not be read or moved aside. Writing
	// them would replace data that was never loaded.
	held map[string]bool
}

func New(dir string, logger *log.Logger) *Index {
	return &Index{
		dir:     dir,
		logger:  logger,
		blocks:  map[BlockKey]uuid.UUID{},
		objects: map[uuid.UUID]uuid.UUID{},
	}
}

// RecordBlock tracks k as placed by owner. Keys that could not be loaded
// back after a restart are refused.
func (x *Index) RecordBlock(k BlockKey, owner uuid.UUID) error {
	if err := k.Valid(); err != nil {
		return err
	}
	x.bmu.Lock()
	x.blocks[k] = owner
	x.bmu.Unlock()
	return nil
}

func (x *Index) ClearBlock(k BlockKey) {
	x.bmu.Lock()
	delete(x.blocks, k)
	x.bmu.Unlock()
}

func (x *Index) IsTrackedBlock(k BlockKey) bool {
	_, ok := x.BlockOwner(k)
	return ok
}

func (x *Index) BlockOwner(k BlockKey) (uuid.UUID, bool) {
	x.bmu.RLock()
	defer x.bmu.RUnlock()
	id, ok := x.blocks[k]
	return id, ok
}

func (x *Index) RecordObject(id, owner uuid.UUID) {
	x.omu.Lock()
	x.objects[id] = owner
	x.omu.Unlock()
}

func (x *Index) ClearObject(id uuid.UUID) {
	x.omu.Lock()
	delete(x.objects, id)
	x.omu.Unlock()
}

func (x *Index) IsTrackedObject(id uuid.UUID) bool {
	_, ok := x.ObjectOwner(id)
	return ok
}

func (x *Index) ObjectOwner(id uuid.UUID) (uuid.UUID, bool) {
	x.omu.RLock()
	defer x.omu.RUnlock()
	owner, ok := x.objects[id]
	return owner, ok
}

// Counts returns the number of tracked blocks and objects.
func (x *Index) Counts() (blocks, objects int) {
	x.bmu.RLock()
	blocks = len(x.blocks)
	x.bmu.RUnlock()
	x.omu.RLock()
	objects = len(x.objects)
	x.omu.RUnlock()
	return blocks, objects
}

// Encoded is a point-in-time serialization of both maps.
type Encoded struct {
	Blocks []byte
	Frames []byte
}

func (x *Index) Encode() (Encoded, error) {
	bd := blocksDoc{Blocks: map[string]string{}}
	x.bmu.RLock()
	for k, owner := range x.blocks {
		bd.Blocks[k.String()] = owner.String()
	}
	x.bmu.RUnlock()

	fd := framesDoc{ItemFrames: map[string]string{}}
	x.omu.RLock()
	for id, owner := range x.objects {
		fd.ItemFrames[id.String()] = owner.String()
	}
	x.omu.RUnlock()

	var out Encoded
	var err error
	if out.Blocks, err = yaml.Marshal(bd); err != nil {
		return Encoded{}, err
	}
	if out.Frames, err = yaml.Marshal(fd); err != nil {
		return Encoded{}, err
	}
	return out, nil
}

// Write stores an encoding produced by Encode. Safe to call off the worker.
func (x *Index) Write(enc Encoded) error {
	x.wmu.Lock()
	defer x.wmu.Unlock()
	for _, f := range []struct {
		name string
		b    []byte
	}{{BlocksFile, enc.Blocks}, {FramesFile, enc.Frames}} {
		if x.held[f.name] {
			x.logger.Printf("ownership: not writing %s: the file on disk was never loaded", f.name)
			continue
		}
		if err := atomicfile.Write(filepath.Join(x.dir, f.name), f.b); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return nil
}

func (x *Index) Persist() error {
	enc, err := x.Encode()
	if err != nil {
		return err
	}
	return x.Write(enc)
}

// Load replaces both maps from disk. Missing files mean empty maps and
// malformed entries are skipped with a warning. Files that cannot be read
// or parsed are moved aside and count as empty.
func (x *Index) Load() error {
	blocks := map[BlockKey]uuid.UUID{}
	var bd blocksDoc
	if err := x.readYAML(BlocksFile, &bd); err != nil {
		return err
	}
	for key, owner := range bd.Blocks {
		k, err := ParseBlockKey(key)
		if err != nil {
			x.logger.Printf("ownership: skipping block entry: %v", err)
			continue
		}
		id, err := uuid.Parse(owner)
		if err != nil {
			x.logger.Printf("ownership: skipping block %s: bad owner %q", key, owner)
			continue
		}
		blocks[k] = id
	}

	objects := map[uuid.UUID]uuid.UUID{}
	var fd framesDoc
	if err := x.readYAML(FramesFile, &fd); err != nil {
		return err
	}
	for key, owner := range fd.ItemFrames {
		id, err := uuid.Parse(key)
		if err != nil {
			x.logger.Printf("ownership: skipping item frame %q: bad id", key)
			continue
		}
		oid, err := uuid.Parse(owner)
		if err != nil {
			x.logger.Printf("ownership: skipping item frame %s: bad owner %q", key, owner)
			continue
		}
		objects[id] = oid
	}

	x.bmu.Lock()
	x.blocks = blocks
	x.bmu.Unlock()
	x.omu.Lock()
	x.objects = objects
	x.omu.Unlock()
	return nil
}

// readYAML decodes name into v. A document that does not parse is moved
// aside and treated as empty so the next persist cannot clobber it.
func (x *Index) readYAML(name string, v any) error {
	path := filepath.Join(x.dir, name)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		x.logger.Printf("ownership: read %s: %v; starting with no entries", name, err)
		x.moveAside(name, ".unreadable")
		return nil
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		x.logger.Printf("ownership: %s: %v", name, err)
		x.moveAside(name, ".corrupt")
		return nil
	}
	return nil
}

func (x *Index) moveAside(name, suffix string) {
	path := filepath.Join(x.dir, name)
	if err := os.Rename(path, path+suffix); err != nil {
		x.logger.Printf("ownership: move aside %s: %v; it will not be overwritten", name, err)
		x.wmu.Lock()
		if x.held == nil {
			x.held = map[string]bool{}
		}
		x.held[name] = true
		x.wmu.Unlock()
	}
}

// Blocks returns a copy of the block map, for offline tools.
func (x *Index) Blocks() map[BlockKey]uuid.UUID {
	x.bmu.RLock()
	defer x.bmu.RUnlock()
	out := make(map[BlockKey]uuid.UUID, len(x.blocks))
	for k, v := range x.blocks {
		out[k] = v
	}
	return out
}

func (x *Index) Objects() map[uuid.UUID]uuid.UUID {
	x.omu.RLock()
	defer x.omu.RUnlock()
	out := make(map[uuid.UUID]uuid.UUID, len(x.objects))
	for k, v := range x.objects {
		out[k] = v
	}
	return out
}
