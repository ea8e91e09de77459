package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/metrics"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

var (
	// ErrRegionInUse: у региона остались намерения или закрепления.
	ErrRegionInUse = errors.New("регион используется")
	// ErrNoProvider: регион отсутствует, а источник не настроен.
	ErrNoProvider = errors.New("источник регионов не настроен")
	// ErrRegionExists: попытка вставить регион поверх существующего.
	ErrRegionExists = errors.New("регион уже загружен")
	// ErrRegionNotLoaded: локации нет в реестре.
	ErrRegionNotLoaded = errors.New("регион не загружен")
	// ErrRegionReadOnly: регион удерживается только намерением Peek и не принимает правок.
	ErrRegionReadOnly = errors.New("регион доступен только для чтения")
)

// Intent: уровень намерения загрузки.
type Intent uint8

const (
	// Peek: регион резидентен только для чтения, без симуляции.
	Peek Intent = iota + 1
	// Required: регион симулируется и отрисовывается.
	Required
)

func (i Intent) String() string {
	switch i {
	case Peek:
		return "peek"
	case Required:
		return "required"
	default:
		return fmt.Sprintf("Intent(%d)", uint8(i))
	}
}

// ParseIntent разбирает "required" / "peek".
func ParseIntent(s string) (Intent, bool) {
	switch s {
	case "required":
		return Required, true
	case "peek":
		return Peek, true
	}
	return 0, false
}

// Provider поставляет регион, которого нет в реестре: из хранилища или от генератора.
type Provider interface {
	ProvideRegion(ctx context.Context, loc terrain.Location, dims terrain.Dims) (*terrain.Region, error)
}

// ProviderFunc адаптирует функцию к Provider.
type ProviderFunc func(ctx context.Context, loc terrain.Location, dims terrain.Dims) (*terrain.Region, error)

func (f ProviderFunc) ProvideRegion(ctx context.Context, loc terrain.Location, dims terrain.Dims) (*terrain.Region, error) {
	return f(ctx, loc, dims)
}

// Sink сохраняет регион перед выгрузкой.
type Sink interface {
	SaveRegion(ctx context.Context, data terrain.RegionData) error
}

// Options настраивают реестр.
type Options struct {
	Provider Provider
	Sink     Sink
	Metrics  *metrics.Terrain
	// OnRequired вызывается вне блокировки, когда у региона появляется
	// первое намерение Required (в том числе при загрузке).
	OnRequired func(region *terrain.Region)
}

type entry struct {
	region   *terrain.Region
	required int
	peek     int
	pins     int // пакеты в полёте и ожидающие перестройки
}

func (e *entry) idle() bool {
	return e.required == 0 && e.peek == 0 && e.pins == 0
}

// Info: срез состояния записи реестра.
type Info struct {
	Location terrain.Location `json:"location"`
	Required int              `json:"required"`
	Peek     int              `json:"peek"`
	Pins     int              `json:"pins"`
	Version  uint64           `json:"version"`
}

// Registry: хранилище активных регионов по локации планеты.
// Экземпляр принадлежит сессии мира; глобального реестра нет.
type Registry struct {
	mu      sync.RWMutex
	dims    terrain.Dims
	entries map[terrain.Location]*entry

	// spawning сериализует загрузку одной локации
	spawnMu  sync.Mutex
	spawning map[terrain.Location]*spawnLock

	provider   Provider
	sink       Sink
	metrics    *metrics.Terrain
	onRequired func(*terrain.Region)
	log        *logging.Logger
}

type spawnLock struct {
	mu   sync.Mutex
	refs int
}

// New создаёт пустой реестр для регионов заданных размеров.
func New(dims terrain.Dims, opts Options) *Registry {
	return &Registry{
		dims:     dims,
		entries:  make(map[terrain.Location]*entry),
		spawning:   make(map[terrain.Location]*spawnLock),
		provider:   opts.Provider,
		sink:       opts.Sink,
		metrics:    opts.Metrics,
		onRequired: opts.OnRequired,
		log:        logging.GetRegistryLogger(),
	}
}

// Dims возвращает размеры регионов этого мира.
func (r *Registry) Dims() terrain.Dims {
	return r.dims
}

// SpawnRegion возвращает регион локации, загружая его через Provider при отсутствии.
// Намерение intent добавляется в любом случае. created == true, если регион был загружен.
func (r *Registry) SpawnRegion(ctx context.Context, loc terrain.Location, intent Intent) (*terrain.Region, bool, error) {
	if region, ok := r.addIntentIfPresent(loc, intent); ok {
		return region, false, nil
	}
	if r.provider == nil {
		return nil, false, fmt.Errorf("локация %s: %w", loc, ErrNoProvider)
	}

	lock := r.acquireSpawnLock(loc)
	lock.mu.Lock()
	defer r.releaseSpawnLock(loc, lock)

	// Другой вызов мог загрузить регион, пока мы ждали.
	if region, ok := r.addIntentIfPresent(loc, intent); ok {
		return region, false, nil
	}

	region, err := r.provider.ProvideRegion(ctx, loc, r.dims)
	if err != nil {
		return nil, false, fmt.Errorf("загрузка региона %s: %w", loc, err)
	}
	if err := r.checkRegion(region); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	e := &entry{region: region}
	e.add(intent)
	r.entries[loc] = e
	r.updateGaugesLocked()
	r.mu.Unlock()

	r.log.Info("🗺️ Регион %s загружен (%s)", loc, intent)
	if intent == Required {
		r.notifyRequired(region)
	}
	return region, true, nil
}

// acquireSpawnLock возвращает мьютекс загрузки локации. Запись живёт,
// пока на неё ссылается хотя бы один вызов SpawnRegion.
func (r *Registry) acquireSpawnLock(loc terrain.Location) *spawnLock {
	r.spawnMu.Lock()
	defer r.spawnMu.Unlock()
	l, ok := r.spawning[loc]
	if !ok {
		l = &spawnLock{}
		r.spawning[loc] = l
	}
	l.refs++
	return l
}

func (r *Registry) releaseSpawnLock(loc terrain.Location, l *spawnLock) {
	l.mu.Unlock()
	r.spawnMu.Lock()
	defer r.spawnMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(r.spawning, loc)
	}
}

func (r *Registry) addIntentIfPresent(loc terrain.Location, intent Intent) (*terrain.Region, bool) {
	r.mu.Lock()
	e, ok := r.entries[loc]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	upgraded := intent == Required && e.required == 0
	e.add(intent)
	r.updateGaugesLocked()
	region := e.region
	r.mu.Unlock()

	if upgraded {
		r.notifyRequired(region)
	}
	return region, true
}

func (r *Registry) notifyRequired(region *terrain.Region) {
	if r.onRequired != nil {
		r.onRequired(region)
	}
}

func (r *Registry) checkRegion(region *terrain.Region) error {
	if region == nil {
		return errors.New("источник вернул nil регион")
	}
	if region.Dims() != r.dims {
		return fmt.Errorf("регион %s: %w: %+v вместо %+v", region.Location(), terrain.ErrDimsMismatch, region.Dims(), r.dims)
	}
	return nil
}

// Insert добавляет готовый регион с намерением intent.
func (r *Registry) Insert(region *terrain.Region, intent Intent) error {
	if err := r.checkRegion(region); err != nil {
		return err
	}
	r.mu.Lock()
	loc := region.Location()
	if _, ok := r.entries[loc]; ok {
		r.mu.Unlock()
		return fmt.Errorf("локация %s: %w", loc, ErrRegionExists)
	}
	e := &entry{region: region}
	e.add(intent)
	r.entries[loc] = e
	r.updateGaugesLocked()
	r.mu.Unlock()

	if intent == Required {
		r.notifyRequired(region)
	}
	return nil
}

// Get ищет регион. Отсутствие: нормальный исход.
func (r *Registry) Get(loc terrain.Location) (*terrain.Region, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[loc]
	if !ok {
		return nil, false
	}
	return e.region, true
}

// IsCurrent сообщает, является ли region текущим экземпляром своей локации.
// После выгрузки (и даже повторной загрузки) старый указатель перестаёт быть текущим.
func (r *Registry) IsCurrent(region *terrain.Region) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[region.Location()]
	return ok && e.region == region
}

// AddIntent добавляет намерение к загруженному региону.
func (r *Registry) AddIntent(loc terrain.Location, intent Intent) bool {
	_, ok := r.addIntentIfPresent(loc, intent)
	return ok
}

// ReleaseIntent снимает одно намерение. Регион не выгружается автоматически.
func (r *Registry) ReleaseIntent(loc terrain.Location, intent Intent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[loc]
	if !ok {
		return false
	}
	switch intent {
	case Required:
		if e.required == 0 {
			return false
		}
		e.required--
	case Peek:
		if e.peek == 0 {
			return false
		}
		e.peek--
	default:
		return false
	}
	r.updateGaugesLocked()
	return true
}

func (e *entry) add(intent Intent) {
	switch intent {
	case Required:
		e.required++
	case Peek:
		e.peek++
	}
}

// PinForEdit закрепляет регион на время пакета изменений.
// Править можно только регион с намерением Required: Peek не симулируется.
func (r *Registry) PinForEdit(loc terrain.Location) (*terrain.Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[loc]
	if !ok {
		return nil, fmt.Errorf("локация %s: %w", loc, ErrRegionNotLoaded)
	}
	if e.required == 0 {
		return nil, fmt.Errorf("локация %s (peek=%d): %w", loc, e.peek, ErrRegionReadOnly)
	}
	e.pins++
	return e.region, nil
}

// Unpin снимает закрепление. Закрепление устаревшего экземпляра игнорируется.
func (r *Registry) Unpin(region *terrain.Region) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[region.Location()]
	if !ok || e.region != region || e.pins == 0 {
		return
	}
	e.pins--
}

// Lease закрепляет текущий экземпляр region и возвращает аренду,
// которую можно передать диспетчеру перестройки.
func (r *Registry) Lease(region *terrain.Region) (*Lease, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[region.Location()]
	if !ok || e.region != region {
		return nil, false
	}
	e.pins++
	return &Lease{reg: r, region: region}, true
}

// Describe возвращает состояние записи.
func (r *Registry) Describe(loc terrain.Location) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[loc]
	if !ok {
		return Info{}, false
	}
	return e.info(loc), true
}

func (e *entry) info(loc terrain.Location) Info {
	return Info{
		Location: loc,
		Required: e.required,
		Peek:     e.peek,
		Pins:     e.pins,
		Version:  e.region.Version(),
	}
}

// List возвращает состояние всех записей, упорядоченное по локации.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.entries))
	for loc, e := range r.entries {
		out = append(out, e.info(loc))
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Info) int {
		if a.Location.X != b.Location.X {
			return a.Location.X - b.Location.X
		}
		return a.Location.Y - b.Location.Y
	})
	return out
}

// Locations возвращает локации, удерживаемые намерением intent.
func (r *Registry) Locations(intent Intent) []terrain.Location {
	var out []terrain.Location
	for _, info := range r.List() {
		if (intent == Required && info.Required > 0) || (intent == Peek && info.Peek > 0) {
			out = append(out, info.Location)
		}
	}
	return out
}

// Len возвращает число загруженных регионов.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Evict сохраняет регион через Sink и удаляет его из реестра.
// Регион с намерениями или закреплениями не выгружается (ErrRegionInUse).
func (r *Registry) Evict(ctx context.Context, loc terrain.Location) error {
	r.mu.RLock()
	e, ok := r.entries[loc]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	if !e.idle() {
		info := e.info(loc)
		r.mu.RUnlock()
		return fmt.Errorf("выгрузка %s (required=%d, peek=%d, pins=%d): %w",
			loc, info.Required, info.Peek, info.Pins, ErrRegionInUse)
	}
	region := e.region
	r.mu.RUnlock()

	saved := region.Version()
	if r.sink != nil {
		data := region.Export()
		saved = data.Version
		if err := r.sink.SaveRegion(ctx, data); err != nil {
			return fmt.Errorf("сохранение региона %s перед выгрузкой: %w", loc, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Пока шло сохранение, регион мог снова понадобиться.
	e, ok = r.entries[loc]
	if !ok || e.region != region {
		return nil
	}
	if !e.idle() {
		return fmt.Errorf("выгрузка %s: %w", loc, ErrRegionInUse)
	}
	// Изменения, зафиксированные после снимка, не попали в хранилище.
	if v := region.Version(); v != saved {
		return fmt.Errorf("выгрузка %s: версия %d сменилась на %d во время сохранения: %w",
			loc, saved, v, ErrRegionInUse)
	}
	delete(r.entries, loc)
	r.updateGaugesLocked()
	r.metrics.RegionEvicted()
	r.log.Info("📤 Регион %s выгружен", loc)
	return nil
}

// EvictIdle выгружает все регионы без намерений и закреплений.
func (r *Registry) EvictIdle(ctx context.Context) ([]terrain.Location, error) {
	var idle []terrain.Location
	r.mu.RLock()
	for loc, e := range r.entries {
		if e.idle() {
			idle = append(idle, loc)
		}
	}
	r.mu.RUnlock()

	var evicted []terrain.Location
	var errs []error
	for _, loc := range idle {
		if err := r.Evict(ctx, loc); err != nil {
			if !errors.Is(err, ErrRegionInUse) {
				errs = append(errs, err)
			}
			continue
		}
		evicted = append(evicted, loc)
	}
	return evicted, errors.Join(errs...)
}

// SaveAll сохраняет все регионы через Sink без выгрузки.
func (r *Registry) SaveAll(ctx context.Context) error {
	if r.sink == nil {
		return nil
	}
	r.mu.RLock()
	regions := make([]*terrain.Region, 0, len(r.entries))
	for _, e := range r.entries {
		regions = append(regions, e.region)
	}
	r.mu.RUnlock()

	var errs []error
	for _, region := range regions {
		if err := r.sink.SaveRegion(ctx, region.Export()); err != nil {
			errs = append(errs, fmt.Errorf("регион %s: %w", region.Location(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) updateGaugesLocked() {
	if r.metrics == nil {
		return
	}
	var required, peek int
	for _, e := range r.entries {
		if e.required > 0 {
			required++
		} else if e.peek > 0 {
			peek++
		}
	}
	r.metrics.SetRegions(required, peek)
}
