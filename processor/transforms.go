package processor

import (
	"sort"

	"github.com/pkg/errors"
)

// Identity copies the input plane unchanged.
func Identity(f Frame) error {
	copy(f.Out, f.In)
	return nil
}

// Invert inverts the color channels of RGBA8888 pixels, leaving alpha alone.
func Invert(f Frame) error {
	for i := 0; i+3 < len(f.In); i += 4 {
		f.Out[i] = 0xff - f.In[i]
		f.Out[i+1] = 0xff - f.In[i+1]
		f.Out[i+2] = 0xff - f.In[i+2]
		f.Out[i+3] = f.In[i+3]
	}
	return nil
}

// FlipVertical reverses the order of scanlines.
func FlipVertical(f Frame) error {
	stride := f.Width * 4
	for y := 0; y < f.Height; y++ {
		src := f.In[y*stride : (y+1)*stride]
		dst := f.Out[(f.Height-1-y)*stride : (f.Height-y)*stride]
		copy(dst, src)
	}
	return nil
}

var transforms = map[string]Transform{
	"identity": Identity,
	"invert":   Invert,
	"vflip":    FlipVertical,
}

// Lookup returns a built-in transform by name.
func Lookup(name string) (Transform, error) {
	if t, ok := transforms[name]; ok {
		return t, nil
	}
	return nil, errors.Errorf("unknown transform '%s' (have %v)", name, Names())
}

// Names lists the built-in transforms.
func Names() []string {
	var names []string
	for name := range transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
