package vm

// handlerRegion is one protected block. Its coverage is a list of disjoint
// sub-ranges: every inlined finally body and every generator re-entry
// sequence closes the current sub-range and opens a new one after it.
type handlerRegion struct {
	starts   []int
	ends     []int
	handler  Label
	depth    int          // Stack depth at region entry
	finally  func() error // Inlined at each exit; nil for except dispatchers
	bodyDone bool
}

type exceptionRange struct {
	start, end int
	handler    Label
	depth      int
}

func (h *handlerRegion) isFinally() bool { return h.finally != nil }

func (h *handlerRegion) open() bool { return len(h.starts) > len(h.ends) }

// pushRegion opens a protected block at the current position.
func (c *Compiler) pushRegion(finally func() error) *handlerRegion {
	h := &handlerRegion{
		handler: c.newLabel(),
		depth:   c.depth,
		finally: finally,
		starts:  []int{c.here()},
	}
	c.handlers = append(c.handlers, h)
	return h
}

// popRegion closes the protected body of the innermost region.
func (c *Compiler) popRegion() *handlerRegion {
	h := c.handlers[len(c.handlers)-1]
	c.handlers = c.handlers[:len(c.handlers)-1]
	if h.open() {
		h.ends = append(h.ends, c.here())
	}
	h.bodyDone = true
	return h
}

// commitRegion adds the non-empty sub-ranges of h to the exception table.
// Regions are committed when their statement completes, so inner regions
// precede outer ones.
func (c *Compiler) commitRegion(h *handlerRegion) {
	for i, start := range h.starts {
		if end := h.ends[i]; start != end {
			c.ranges = append(c.ranges, exceptionRange{start: start, end: end, handler: h.handler, depth: h.depth})
		}
	}
}

// endRanges closes the current sub-range of every open region.
func (c *Compiler) endRanges() {
	at := c.here()
	for _, h := range c.handlers {
		if h.open() {
			h.ends = append(h.ends, at)
		}
	}
}

// restartRanges opens a new sub-range in every region closed by endRanges.
func (c *Compiler) restartRanges() {
	at := c.here()
	for _, h := range c.handlers {
		if !h.open() {
			h.starts = append(h.starts, at)
		}
	}
}

// inlineFinally ends coverage of h at the current position and emits its
// finally body, if it has one, outside that coverage.
func (c *Compiler) inlineFinally(h *handlerRegion) error {
	if !h.bodyDone && h.open() {
		h.ends = append(h.ends, c.here())
	}
	if h.finally == nil {
		return nil
	}
	return h.finally()
}

// doFinallysDownTo inlines the finally bodies of every region above level,
// innermost first, then reopens those regions for the code that follows.
// Each finally body is emitted with only the regions below it still open.
func (c *Compiler) doFinallysDownTo(level int) error {
	var popped []*handlerRegion
	for len(c.handlers) > level {
		h := c.handlers[len(c.handlers)-1]
		c.handlers = c.handlers[:len(c.handlers)-1]
		popped = append(popped, h)
		if err := c.inlineFinally(h); err != nil {
			return err
		}
	}
	for i := len(popped) - 1; i >= 0; i-- {
		h := popped[i]
		if !h.open() {
			h.starts = append(h.starts, c.here())
		}
		c.handlers = append(c.handlers, h)
	}
	return nil
}

// inFinallyRegion reports whether a finally body is pending on some exit
// from the current position.
func (c *Compiler) inFinallyRegion() bool {
	for _, h := range c.handlers {
		if h.isFinally() {
			return true
		}
	}
	return c.finallyBody > 0
}
