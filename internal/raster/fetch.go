package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // band decoders
	_ "image/png"
	"io"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/catalog"
	"github.com/robert-malhotra/changewatch/internal/earthdata"
	"github.com/robert-malhotra/changewatch/internal/geo"
)

const (
	// DefaultFetchTimeout bounds the download of all bands of one scene.
	DefaultFetchTimeout = 60 * time.Second

	// DefaultMaxBandBytes caps a single band download.
	DefaultMaxBandBytes = 512 << 20

	DefaultLowPercentile  = 2.0
	DefaultHighPercentile = 98.0
)

// boxKernel averages every source pixel under the destination pixel. When
// downscaling, x/image/draw widens the kernel by the scale factor, which makes
// it an area-weighted resample.
var boxKernel = &draw.Kernel{Support: 0.5, At: func(float64) float64 { return 1 }}

// Cache stores finished rasters. Implementations must be safe for concurrent
// use and keep the first value written for a key.
type Cache interface {
	Get(ctx context.Context, key string) (*Image, bool, error)
	PutIfAbsent(ctx context.Context, key string, img *Image) (bool, error)
}

// CacheObserver is notified of every cache lookup.
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

// CacheKey identifies the raster produced for a scene, area and output size.
func CacheKey(sceneID string, bbox aoi.BoundingBox, size int) string {
	return sceneID + ":" + bbox.Key() + ":" + strconv.Itoa(size)
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Size           int
	Timeout        time.Duration
	LowPercentile  float64
	HighPercentile float64
	MaxBandBytes   int64
	Credentials    earthdata.Credentials
}

// Fetcher downloads the visible bands of a scene and turns them into an Image.
type Fetcher struct {
	cfg        FetcherConfig
	httpClient *http.Client
	cache      Cache
	observer   CacheObserver
	logger     *slog.Logger
}

// NewFetcher creates a new Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.LowPercentile <= 0 && cfg.HighPercentile <= 0 {
		cfg.LowPercentile, cfg.HighPercentile = DefaultLowPercentile, DefaultHighPercentile
	}
	if cfg.MaxBandBytes <= 0 {
		cfg.MaxBandBytes = DefaultMaxBandBytes
	}

	return &Fetcher{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the fetcher.
func (f *Fetcher) WithLogger(logger *slog.Logger) *Fetcher {
	f.logger = logger
	return f
}

// WithCache enables the advisory raster cache.
func (f *Fetcher) WithCache(cache Cache, observer CacheObserver) *Fetcher {
	f.cache = cache
	f.observer = observer
	return f
}

// Size returns the configured output edge length.
func (f *Fetcher) Size() int { return f.cfg.Size }

// Fetch returns the scene cropped to bbox and resampled to Size x Size.
//
// Each band is windowed on its own pixel grid: the catalog's projection
// metadata when present, else the GeoTIFF tags of the band, else a linear
// spread of the footprint. Parts of bbox the raster does not cover are black.
func (f *Fetcher) Fetch(ctx context.Context, scene catalog.SceneCandidate, bbox aoi.BoundingBox) (*Image, error) {
	hrefs := make([]string, len(catalog.VisibleBands))
	for i, band := range catalog.VisibleBands {
		href, ok := scene.Band(band)
		if !ok {
			return nil, fmt.Errorf("%w: scene %s has no %s band", ErrBandMissing, scene.ID, band)
		}
		hrefs[i] = href
	}

	if _, ok := bbox.Intersect(scene.Footprint); !ok {
		return nil, fmt.Errorf("%w: %s does not overlap footprint %s of %s", ErrEmptyCrop, bbox, scene.Footprint, scene.ID)
	}

	key := CacheKey(scene.ID, bbox, f.cfg.Size)
	if img, ok := f.cacheGet(ctx, key); ok {
		return img, nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	bands, err := f.downloadBands(ctx, hrefs)
	if err != nil {
		return nil, fmt.Errorf("%w: scene %s: %w", ErrFetchFailed, scene.ID, err)
	}

	out := image.NewRGBA(image.Rect(0, 0, f.cfg.Size, f.cfg.Size))
	for ch, b := range bands {
		name := catalog.VisibleBands[ch]
		grid := f.bandGrid(scene, name, b)

		win, err := grid.Window(bbox)
		if err != nil {
			return nil, fmt.Errorf("%w: scene %s: band %s: %w", ErrFetchFailed, scene.ID, name, err)
		}
		covered := win.Intersect(b.img.Bounds())
		if covered.Empty() {
			return nil, fmt.Errorf("%w: %s maps to %v, outside %s band %v of %s",
				ErrEmptyCrop, bbox, win, name, b.img.Bounds(), scene.ID)
		}

		channel := stretchChannel(b.img, covered, ch, f.cfg.LowPercentile, f.cfg.HighPercentile)
		resampled := image.NewGray(out.Bounds())
		boxKernel.Scale(resampled, placement(win, covered, f.cfg.Size), channel, channel.Bounds(), draw.Src, nil)
		for i, v := range resampled.Pix {
			out.Pix[i*4+ch] = v
			out.Pix[i*4+3] = 0xff
		}
	}

	img := FromRGBA(out, SourceReal, scene.ID)
	f.cachePut(ctx, key, img)

	return img, nil
}

// bandRaster is a decoded band raster and the georeferencing found in its file.
type bandRaster struct {
	img  image.Image
	grid geo.Grid
}

func (f *Fetcher) bandGrid(scene catalog.SceneCandidate, name string, b bandRaster) geo.Grid {
	if g, ok := scene.Grids[name]; ok && !g.IsZero() {
		return g
	}
	if !b.grid.IsZero() {
		return b.grid
	}
	bounds := b.img.Bounds()
	g := geo.FromExtent(scene.Footprint, bounds.Dx(), bounds.Dy())
	g.Transform[2] -= float64(bounds.Min.X) * g.Transform[0]
	g.Transform[5] -= float64(bounds.Min.Y) * g.Transform[4]
	return g
}

// downloadBands fetches each distinct href once, concurrently.
func (f *Fetcher) downloadBands(ctx context.Context, hrefs []string) ([]bandRaster, error) {
	unique := make([]string, 0, len(hrefs))
	for _, h := range hrefs {
		if !slices.Contains(unique, h) {
			unique = append(unique, h)
		}
	}

	decoded := make([]bandRaster, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	for i, href := range unique {
		g.Go(func() error {
			b, err := f.download(gctx, href)
			if err != nil {
				return err
			}
			decoded[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]bandRaster, len(hrefs))
	for i, h := range hrefs {
		out[i] = decoded[slices.Index(unique, h)]
	}
	return out, nil
}

func (f *Fetcher) download(ctx context.Context, href string) (bandRaster, error) {
	f.logger.DebugContext(ctx, "downloading band", slog.String("href", href))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return bandRaster{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "changewatch/1.0")
	f.cfg.Credentials.Apply(req)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return bandRaster{}, fmt.Errorf("band request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return bandRaster{}, fmt.Errorf("band server returned status %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBandBytes))
	if err != nil {
		return bandRaster{}, fmt.Errorf("failed to read band %s: %w", href, err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return bandRaster{}, fmt.Errorf("failed to decode band %s: %w", href, err)
	}

	var grid geo.Grid
	if format == "tiff" {
		g, ok, err := geo.ReadGeoTIFF(data)
		switch {
		case errors.Is(err, geo.ErrUnsupportedCRS):
			return bandRaster{}, fmt.Errorf("band %s: %w", href, err)
		case err != nil:
			f.logger.DebugContext(ctx, "ignoring unreadable GeoTIFF tags",
				slog.String("href", href),
				slog.String("error", err.Error()),
			)
		case ok:
			grid = g
		}
	}

	f.logger.DebugContext(ctx, "band decoded",
		slog.String("href", href),
		slog.String("format", format),
		slog.Int("width", img.Bounds().Dx()),
		slog.Int("height", img.Bounds().Dy()),
		slog.Int("epsg", grid.EPSG),
	)
	return bandRaster{img: img, grid: grid}, nil
}

func (f *Fetcher) cacheGet(ctx context.Context, key string) (*Image, bool) {
	if f.cache == nil {
		return nil, false
	}
	img, ok, err := f.cache.Get(ctx, key)
	if err != nil {
		f.logger.WarnContext(ctx, "raster cache lookup failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		ok = false
	}
	if ok && img.Validate(f.cfg.Size) != nil {
		ok = false
	}
	if f.observer != nil {
		f.observer.ObserveCacheLookup(ok)
	}
	return img, ok
}

func (f *Fetcher) cachePut(ctx context.Context, key string, img *Image) {
	if f.cache == nil {
		return
	}
	if _, err := f.cache.PutIfAbsent(ctx, key, img); err != nil {
		f.logger.WarnContext(ctx, "raster cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// stretchChannel reads channel ch of img inside r and stretches it so the
// low and high percentiles land on 0 and 255.
func stretchChannel(img image.Image, r image.Rectangle, ch int, lowPct, highPct float64) *image.Gray {
	out := image.NewGray(r)
	values := channelValues(img, r, ch)
	lo, hi := percentiles(values, lowPct, highPct)
	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	for i, v := range values {
		if scale > 0 {
			out.Pix[i] = clip8((v - lo) * scale)
		} else {
			out.Pix[i] = uint8(uint32(v) >> 8)
		}
	}
	return out
}

// placement returns where the covered part of win lands in a size x size
// output that spans all of win. The rest of the output stays black.
func placement(win, covered image.Rectangle, size int) image.Rectangle {
	sx := float64(size) / float64(win.Dx())
	sy := float64(size) / float64(win.Dy())
	return image.Rect(
		int(math.Round(float64(covered.Min.X-win.Min.X)*sx)),
		int(math.Round(float64(covered.Min.Y-win.Min.Y)*sy)),
		int(math.Round(float64(covered.Max.X-win.Min.X)*sx)),
		int(math.Round(float64(covered.Max.Y-win.Min.Y)*sy)),
	)
}

// channelValues returns the 16-bit samples of channel ch inside r, row major.
// Single band rasters report the same value on every channel.
func channelValues(img image.Image, r image.Rectangle, ch int) []float64 {
	values := make([]float64, 0, r.Dx()*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			v := [3]uint32{cr, cg, cb}[ch]
			values = append(values, float64(v))
		}
	}
	return values
}

func percentiles(values []float64, lowPct, highPct float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return percentile(sorted, lowPct), percentile(sorted, highPct)
}

// percentile uses linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	p = math.Max(0, math.Min(100, p))
	pos := p / 100 * float64(len(sorted)-1)
	i := int(pos)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(i)
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}
