// Package render keeps per-frame drawing cost proportional to the
// visible set: viewport culling picks the stations and edges that
// matter, and a sprite pool reuses draw primitives across frames
// instead of recreating them.
package render

import (
	"github.com/RoaringBitmap/roaring"
)

// Sprite is one pooled draw primitive. Sprites leaving the viewport are
// hidden, not destroyed, unless evicted under memory pressure.
type Sprite struct {
	Path    string
	X, Y    float64
	Visible bool
}

// PoolStats accumulates over the pool's lifetime.
type PoolStats struct {
	Created int
	Reused  int
	Pooled  int
	Evicted int
}

// SpritePool maps station paths to primitives. Paths get stable integer
// ids so frame membership can be tracked and diffed as bitmaps.
type SpritePool struct {
	sprites map[string]*Sprite
	ids     map[string]uint32
	paths   []string
	nextID  uint32

	visible *roaring.Bitmap
	stats   PoolStats
}

func NewSpritePool() *SpritePool {
	return &SpritePool{
		sprites: make(map[string]*Sprite),
		ids:     make(map[string]uint32),
		visible: roaring.New(),
	}
}

func (p *SpritePool) Stats() PoolStats { return p.stats }
func (p *SpritePool) Len() int         { return len(p.sprites) }

// Sprite returns the pooled primitive for a path, or nil.
func (p *SpritePool) Sprite(path string) *Sprite { return p.sprites[path] }

func (p *SpritePool) id(path string) uint32 {
	id, ok := p.ids[path]
	if !ok {
		id = p.nextID
		p.nextID++
		p.ids[path] = id
		p.paths = append(p.paths, path)
	}
	return id
}

// Reconcile diffs the requested visible set against the previous frame.
// Primitives already live stay untouched (reused), primitives re-entering
// view come back from the pool, new paths allocate, and everything that
// left view is pooled. Returns created and reused counts for the frame.
type placement struct {
	Path string
	X, Y float64
}

func (p *SpritePool) Reconcile(want []placement) (created, reused int) {
	cur := roaring.New()
	for _, w := range want {
		id := p.id(w.Path)
		cur.Add(id)

		sp, ok := p.sprites[w.Path]
		if !ok {
			sp = &Sprite{Path: w.Path}
			p.sprites[w.Path] = sp
			created++
		} else {
			reused++
		}
		sp.X, sp.Y = w.X, w.Y
		sp.Visible = true
	}

	// Everything visible last frame but not this one goes back to the
	// pool, hidden.
	gone := roaring.AndNot(p.visible, cur)
	it := gone.Iterator()
	for it.HasNext() {
		id := it.Next()
		if int(id) < len(p.paths) {
			if sp, ok := p.sprites[p.paths[id]]; ok {
				sp.Visible = false
				p.stats.Pooled++
			}
		}
	}

	p.visible = cur
	p.stats.Created += created
	p.stats.Reused += reused
	return created, reused
}

// EvictHidden drops every pooled-but-hidden primitive. Called only
// under explicit memory pressure; visible sprites always survive.
func (p *SpritePool) EvictHidden() int {
	evicted := 0
	for path, sp := range p.sprites {
		if !sp.Visible {
			delete(p.sprites, path)
			evicted++
		}
	}
	p.stats.Evicted += evicted
	return evicted
}

// Reset discards the pool wholesale. Used when the tree is replaced.
func (p *SpritePool) Reset() {
	p.sprites = make(map[string]*Sprite)
	p.ids = make(map[string]uint32)
	p.paths = nil
	p.nextID = 0
	p.visible = roaring.New()
}
