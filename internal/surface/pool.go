package surface

import (
	"image"
	"sync"
)

// framePool recycles snapshot buffers so a recording does not allocate a
// full frame per capture. Buffers are pooled per size; a resize simply
// starts a new pool.
type framePool struct {
	mu    sync.RWMutex
	pools map[image.Rectangle]*sync.Pool
}

func newFramePool() *framePool {
	return &framePool{pools: make(map[image.Rectangle]*sync.Pool)}
}

func (p *framePool) get(rect image.Rectangle) *image.RGBA {
	p.mu.RLock()
	pool, ok := p.pools[rect]
	p.mu.RUnlock()

	if !ok {
		p.mu.Lock()
		// Double check
		pool, ok = p.pools[rect]
		if !ok {
			pool = &sync.Pool{
				New: func() any {
					return image.NewRGBA(rect)
				},
			}
			p.pools[rect] = pool
		}
		p.mu.Unlock()
	}
	return pool.Get().(*image.RGBA)
}

func (p *framePool) put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.mu.RLock()
	pool, ok := p.pools[img.Rect]
	p.mu.RUnlock()
	if ok {
		pool.Put(img)
	}
}
