package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/scttfrdmn/local-wavenet/dataset"
)

var (
	// ErrNoAudio indicates a directory without any WAV files.
	ErrNoAudio = errors.New("audio: no wav files found")

	// ErrInvalidCache indicates a cache file that is truncated, corrupt or
	// was written for a different decoding.
	ErrInvalidCache = errors.New("audio: invalid cache file")
)

const cacheMagic = "WNQ2"

// DatasetConfig describes how a quantized stream is cut into items.
type DatasetConfig struct {
	// ItemLength is the number of input samples per item, normally the
	// model's receptive field plus its output length minus one.
	ItemLength int `yaml:"item_length"`

	// TargetLength is the number of trailing samples predicted per item.
	TargetLength int `yaml:"target_length"`

	Classes    int `yaml:"classes"`
	SampleRate int `yaml:"sample_rate"`

	// TestStride puts every TestStride-th item in the test view. If 0,
	// defaults to 100.
	TestStride int `yaml:"test_stride"`

	// Normalize peak-normalizes each file before quantization.
	Normalize bool `yaml:"normalize"`

	// CacheFile stores the quantized stream so later runs skip decoding.
	CacheFile string `yaml:"cache_file"`

	// Workers bounds parallel file decoding. If 0, defaults to runtime.NumCPU().
	Workers int `yaml:"-"`
}

func (c DatasetConfig) testStride() int {
	if c.TestStride > 1 {
		return c.TestStride
	}
	return 100
}

// Dataset serves fixed-length windows of a quantized audio stream.
//
// Every TestStride-th window belongs to the test view and the rest to the
// training view; SetTrain switches between them.
type Dataset struct {
	data   []int
	config DatasetConfig
	train  bool
}

// NewDataset wraps an already quantized stream.
func NewDataset(data []int, config DatasetConfig) (*Dataset, error) {
	if config.ItemLength <= 0 || config.TargetLength <= 0 {
		return nil, fmt.Errorf("audio: item length %d and target length %d must be positive", config.ItemLength, config.TargetLength)
	}
	if config.TargetLength > config.ItemLength {
		return nil, fmt.Errorf("audio: target length %d exceeds item length %d", config.TargetLength, config.ItemLength)
	}
	return &Dataset{data: data, config: config, train: true}, nil
}

// Samples returns the number of quantized samples in the stream.
func (d *Dataset) Samples() int { return len(d.data) }

// Data returns the underlying quantized stream.
func (d *Dataset) Data() []int { return d.data }

func (d *Dataset) windows() int {
	available := len(d.data) - (d.config.ItemLength - (d.config.TargetLength - 1)) - 1
	if available < 0 {
		return 0
	}
	return available / d.config.TargetLength
}

func (d *Dataset) testLen() int {
	return d.windows() / d.config.testStride()
}

func (d *Dataset) Len() int {
	if d.train {
		return d.windows() - d.testLen()
	}
	return d.testLen()
}

func (d *Dataset) Item(i int) (dataset.Item, error) {
	if i < 0 || i >= d.Len() {
		return dataset.Item{}, dataset.ErrIndexOutOfRange
	}

	stride := d.config.testStride()
	var idx int
	if d.train {
		idx = i + i/(stride-1)
	} else {
		idx = stride*(i+1) - 1
	}

	p := idx * d.config.TargetLength
	end := p + d.config.ItemLength + 1
	if end > len(d.data) {
		return dataset.Item{}, dataset.ErrIndexOutOfRange
	}

	window := d.data[p:end]
	return dataset.Item{
		Input:  window[:d.config.ItemLength],
		Target: window[len(window)-d.config.TargetLength:],
	}, nil
}

func (d *Dataset) SetTrain(train bool) { d.train = train }

func (d *Dataset) Train() bool { return d.train }

func (d *Dataset) TargetLength() int { return d.config.TargetLength }

// LoadDir decodes every .wav file under dir, quantizes it and joins the
// files into one stream in lexical path order.
//
// If config.CacheFile exists it is used instead of decoding; otherwise it
// is written after decoding. A cache written for another directory, class
// count, sample rate or normalization fails with ErrInvalidCache.
func LoadDir(ctx context.Context, dir string, config DatasetConfig) (*Dataset, error) {
	key, err := config.CacheKey(dir)
	if err != nil {
		return nil, err
	}
	if config.CacheFile != "" {
		data, err := ReadCache(config.CacheFile, key)
		switch {
		case err == nil:
			slog.Debug("using quantized cache", "path", config.CacheFile, "samples", len(data))
			return NewDataset(data, config)
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}

	files, err := wavFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoAudio, dir)
	}

	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	parts := make([][]int, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			samples, _, err := ReadWAV(path, config.SampleRate)
			if err != nil {
				return err
			}
			if config.Normalize {
				Normalize(samples)
			}
			parts[i] = QuantizeAll(samples, config.Classes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var data []int
	for _, p := range parts {
		data = append(data, p...)
	}
	slog.Info("loaded audio", "dir", dir, "files", len(files), "samples", len(data))

	if config.CacheFile != "" {
		if err := WriteCache(config.CacheFile, data, key); err != nil {
			return nil, err
		}
	}
	return NewDataset(data, config)
}

func wavFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".wav") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ===========================================================================
// Quantized cache
// ===========================================================================

// CacheKey identifies the decoding a cached stream was produced with. A
// cache is only reused when every field matches.
type CacheKey struct {
	Classes    int
	SampleRate int
	Normalize  bool

	// Source is the absolute path of the decoded directory.
	Source string
}

// CacheKey returns the key LoadDir writes for dir.
func (c DatasetConfig) CacheKey(dir string) (CacheKey, error) {
	source, err := filepath.Abs(dir)
	if err != nil {
		return CacheKey{}, err
	}
	return CacheKey{
		Classes:    c.Classes,
		SampleRate: c.SampleRate,
		Normalize:  c.Normalize,
		Source:     source,
	}, nil
}

func (k CacheKey) elemSize() int64 {
	if k.Classes <= 256 {
		return 1
	}
	return 2
}

// headerLen is the size of everything before the samples.
func (k CacheKey) headerLen() int64 {
	// magic, classes, sample rate, normalize, source length, source, count
	return int64(len(cacheMagic)) + 4 + 4 + 1 + 2 + int64(len(k.Source)) + 8
}

// WriteCache stores a quantized stream. Class indices are written as one
// byte when key.Classes <= 256 and as little-endian uint16 otherwise.
func WriteCache(path string, data []int, key CacheKey) error {
	if len(key.Source) > math.MaxUint16 {
		return fmt.Errorf("write cache %s: source path too long", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if err := writeCache(w, data, key); err != nil {
		f.Close()
		return fmt.Errorf("write cache %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeCache(w io.Writer, data []int, key CacheKey) error {
	var normalize uint8
	if key.Normalize {
		normalize = 1
	}
	header := []any{
		uint32(key.Classes),
		uint32(key.SampleRate),
		normalize,
		uint16(len(key.Source)),
	}

	if _, err := io.WriteString(w, cacheMagic); err != nil {
		return err
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, key.Source); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(data))); err != nil {
		return err
	}

	if key.elemSize() == 1 {
		buf := make([]byte, len(data))
		for i, c := range data {
			buf[i] = byte(c)
		}
		_, err := w.Write(buf)
		return err
	}

	buf := make([]uint16, len(data))
	for i, c := range data {
		buf[i] = uint16(c)
	}
	return binary.Write(w, binary.LittleEndian, buf)
}

// ReadCache loads a stream written by WriteCache. A missing file yields
// an error matching os.ErrNotExist. A file written with a different key,
// or whose sample count disagrees with its size, yields ErrInvalidCache.
func ReadCache(path string, key CacheKey) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	r := bufio.NewReader(f)
	stored, n, err := readCacheHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCache, path, err)
	}
	if stored != key {
		return nil, fmt.Errorf("%w: %s was written for %+v, want %+v", ErrInvalidCache, path, stored, key)
	}

	body := info.Size() - key.headerLen()
	if body < 0 || n > uint64(body) || int64(n)*key.elemSize() != body {
		return nil, fmt.Errorf("%w: %s: header claims %d samples in %d bytes", ErrInvalidCache, path, n, body)
	}

	data := make([]int, n)
	if key.elemSize() == 1 {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCache, path, err)
		}
		for i, b := range buf {
			data[i] = int(b)
		}
		return data, nil
	}

	buf := make([]uint16, n)
	if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCache, path, err)
	}
	for i, v := range buf {
		data[i] = int(v)
	}
	return data, nil
}

func readCacheHeader(r io.Reader) (CacheKey, uint64, error) {
	magic := make([]byte, len(cacheMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return CacheKey{}, 0, err
	}
	if string(magic) != cacheMagic {
		return CacheKey{}, 0, fmt.Errorf("bad magic %q", magic)
	}

	var (
		classes, rate uint32
		normalize     uint8
		sourceLen     uint16
		n             uint64
	)
	for _, v := range []any{&classes, &rate, &normalize, &sourceLen} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return CacheKey{}, 0, err
		}
	}
	source := make([]byte, sourceLen)
	if _, err := io.ReadFull(r, source); err != nil {
		return CacheKey{}, 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return CacheKey{}, 0, err
	}

	key := CacheKey{
		Classes:    int(classes),
		SampleRate: int(rate),
		Normalize:  normalize != 0,
		Source:     string(source),
	}
	return key, n, nil
}
