package spawn

import (
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"ghoulrush.io/internal/sim/netid"
)

type Config struct {
	// MaxPerTick caps entities created in one tick; the rest carry over.
	MaxPerTick int
	// MinPlayerDistance is the closest a Random placement may land to a
	// player.
	MinPlayerDistance float32
	// RandomRetries is the number of samples a Random placement may try per
	// entity before the policy is skipped for the tick.
	RandomRetries int
	// BorderlineCandidates is how many edge points are compared.
	BorderlineCandidates int
	// BorderlineInset keeps edge spawns this far inside the bounds.
	BorderlineInset float32
	Seed            int64
}

func (c *Config) applyDefaults() {
	if c.MaxPerTick <= 0 {
		c.MaxPerTick = 10
	}
	if c.RandomRetries <= 0 {
		c.RandomRetries = 16
	}
	if c.BorderlineCandidates <= 0 {
		c.BorderlineCandidates = 8
	}
	if c.MinPlayerDistance < 0 {
		c.MinPlayerDistance = 0
	}
	if c.BorderlineInset < 0 {
		c.BorderlineInset = 0
	}
}

type Spawned[E any] struct {
	Entity E
	ID     netid.ID
	Kind   string
	Pos    mgl32.Vec2
}

type Result[E any] struct {
	Spawned []Spawned[E]
	// Skipped lists policies whose placement failed this tick.
	Skipped []string
	// BudgetExhausted is set when work remained after MaxPerTick spawns.
	BudgetExhausted bool
	// Remaining is the worklist total after the tick.
	Remaining uint64
}

// Scheduler services a spawn worklist. It registers every entity it creates
// with the identifier registry it was given.
type Scheduler[E comparable] struct {
	cfg    Config
	ids    *netid.Registry[E]
	rng    *rand.Rand
	logger *zap.Logger
}

func NewScheduler[E comparable](cfg Config, ids *netid.Registry[E], logger *zap.Logger) *Scheduler[E] {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler[E]{
		cfg:    cfg,
		ids:    ids,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger.Named("spawn"),
	}
}

func (s *Scheduler[E]) Config() Config { return s.cfg }

// Tick creates up to MaxPerTick entities from work, head first, decrementing
// counts and removing exhausted policies in place.
func (s *Scheduler[E]) Tick(work *Actions, geo Geometry, f Factory[E]) Result[E] {
	var res Result[E]
	if work == nil {
		return res
	}
	budget := s.cfg.MaxPerTick
	i := 0
	for i < len(*work) && budget > 0 {
		a := &(*work)[i]
		if a.Count == 0 {
			*work = append((*work)[:i], (*work)[i+1:]...)
			continue
		}
		pos, ok := s.place(a.Placement, geo)
		if !ok {
			s.logger.Debug("placement retries exhausted; retrying next tick",
				zap.String("kind", a.EntityKind),
				zap.Stringer("placement", a.Placement),
				zap.Uint32("remaining", a.Count))
			res.Skipped = append(res.Skipped, a.EntityKind)
			i++
			continue
		}
		e := f.CreateMonster(a.EntityKind, pos)
		id := s.ids.RegisterNewEntity(e)
		res.Spawned = append(res.Spawned, Spawned[E]{Entity: e, ID: id, Kind: a.EntityKind, Pos: pos})
		budget--
		a.Count--
		if a.Count == 0 {
			*work = append((*work)[:i], (*work)[i+1:]...)
		}
	}
	res.Remaining = work.Remaining()
	res.BudgetExhausted = budget == 0 && res.Remaining > 0
	if res.BudgetExhausted {
		s.logger.Debug("spawn budget exhausted",
			zap.Int("spawned", len(res.Spawned)),
			zap.Uint64("deferred", res.Remaining))
	}
	return res
}

func (s *Scheduler[E]) place(p Placement, geo Geometry) (mgl32.Vec2, bool) {
	bounds := geo.PlayableBounds()
	switch p {
	case Borderline:
		return s.placeBorderline(bounds.Inset(s.cfg.BorderlineInset), geo), true
	case Random:
		return s.placeRandom(bounds, geo)
	}
	return mgl32.Vec2{}, false
}

// placeBorderline samples points on the rectangle's edge and keeps the one
// farthest from any player.
func (s *Scheduler[E]) placeBorderline(r Rect, geo Geometry) mgl32.Vec2 {
	var (
		best     mgl32.Vec2
		bestDist float32 = -1
	)
	for i := 0; i < s.cfg.BorderlineCandidates; i++ {
		p := s.perimeterPoint(r)
		if d := geo.DistanceToNearestPlayer(p); d > bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

func (s *Scheduler[E]) perimeterPoint(r Rect) mgl32.Vec2 {
	size := r.Size()
	w, h := size.X(), size.Y()
	total := 2 * (w + h)
	if total <= 0 {
		return r.Min
	}
	t := s.rng.Float32() * total
	switch {
	case t < w:
		return mgl32.Vec2{r.Min.X() + t, r.Min.Y()}
	case t < w+h:
		return mgl32.Vec2{r.Max.X(), r.Min.Y() + (t - w)}
	case t < 2*w+h:
		return mgl32.Vec2{r.Max.X() - (t - w - h), r.Max.Y()}
	default:
		return mgl32.Vec2{r.Min.X(), r.Max.Y() - (t - 2*w - h)}
	}
}

func (s *Scheduler[E]) placeRandom(r Rect, geo Geometry) (mgl32.Vec2, bool) {
	size := r.Size()
	for i := 0; i < s.cfg.RandomRetries; i++ {
		p := mgl32.Vec2{
			r.Min.X() + s.rng.Float32()*size.X(),
			r.Min.Y() + s.rng.Float32()*size.Y(),
		}
		if geo.DistanceToNearestPlayer(p) >= s.cfg.MinPlayerDistance {
			return p, true
		}
	}
	return mgl32.Vec2{}, false
}
