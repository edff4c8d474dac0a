package reassembly

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const pdfHeader = "%PDF-1.7\n%\xE2\xE3\xCF\xD3\n"

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// merge concatenates artifacts in slice order into one PDF. Callers sort
// first. The Info dictionary of the first artifact is carried over and m is
// applied on top of it.
//
// Objects are copied depth-first from each page and numbered in visit order,
// so equal artifacts always produce equal bytes.
func merge(artifacts []Artifact, m Metadata) ([]byte, error) {
	w := &docWriter{}
	catalog := w.alloc()
	pages := w.alloc()

	var kids types.Array
	var info types.Dict
	for i, a := range artifacts {
		ctx, err := readArtifact(a)
		if err != nil {
			return nil, err
		}
		c := &objCopier{w: w, ctx: ctx, seen: make(map[int]int)}
		for p := 1; p <= ctx.PageCount; p++ {
			kid, err := c.page(p, pages)
			if err != nil {
				return nil, fmt.Errorf("failed to copy page %d: %w", a.Index, err)
			}
			kids = append(kids, kid)
		}
		if i == 0 && ctx.Info != nil {
			src, err := ctx.DereferenceDict(*ctx.Info)
			if err != nil {
				return nil, fmt.Errorf("failed to read info dict: %w", err)
			}
			if info, err = c.dict(src); err != nil {
				return nil, fmt.Errorf("failed to copy info dict: %w", err)
			}
		}
	}
	if len(kids) == 0 {
		return nil, fmt.Errorf("%w: rendered pages are empty", ErrInvalidInput)
	}

	w.set(catalog, types.Dict{
		"Type":  types.Name("Catalog"),
		"Pages": ref(pages),
	})
	w.set(pages, types.Dict{
		"Type":  types.Name("Pages"),
		"Kids":  kids,
		"Count": types.Integer(len(kids)),
	})

	trailer := types.Dict{"Root": ref(catalog)}
	if !m.IsZero() {
		if info == nil {
			info = types.NewDict()
		}
		if err := m.apply(info); err != nil {
			return nil, err
		}
	}
	if len(info) > 0 {
		nr := w.alloc()
		w.set(nr, info)
		trailer["Info"] = ref(nr)
	}
	return w.encode(trailer), nil
}

func readArtifact(a Artifact) (*model.Context, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page %d: %w", a.Index, err)
	}
	defer f.Close()
	ctx, err := api.ReadAndValidate(f, pdfConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to read page %d: %w", a.Index, err)
	}
	return ctx, nil
}

func ref(nr int) types.IndirectRef {
	return *types.NewIndirectRef(nr, 0)
}

// docWriter collects numbered objects and serializes them with a classic
// cross-reference table.
type docWriter struct {
	objects []types.Object // object number i+1
}

func (w *docWriter) alloc() int {
	w.objects = append(w.objects, nil)
	return len(w.objects)
}

func (w *docWriter) set(nr int, o types.Object) {
	w.objects[nr-1] = o
}

func (w *docWriter) encode(trailer types.Dict) []byte {
	var buf bytes.Buffer
	buf.WriteString(pdfHeader)

	offsets := make([]int, len(w.objects))
	for i, o := range w.objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", i+1)
		switch o := o.(type) {
		case nil:
			buf.WriteString("null")
		case types.StreamDict:
			buf.WriteString(o.Dict.PDFString())
			buf.WriteString("\nstream\n")
			buf.Write(o.Raw)
			buf.WriteString("\nendstream")
		default:
			buf.WriteString(o.PDFString())
		}
		buf.WriteString("\nendobj\n")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(w.objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	trailer["Size"] = types.Integer(len(w.objects) + 1)
	buf.WriteString("trailer\n")
	buf.WriteString(trailer.PDFString())
	buf.WriteString("\nstartxref\n")
	buf.WriteString(strconv.Itoa(xref))
	buf.WriteString("\n%%EOF\n")
	return buf.Bytes()
}

// objCopier copies objects reachable from one source document into a
// docWriter, renumbering indirect references.
type objCopier struct {
	w    *docWriter
	ctx  *model.Context
	seen map[int]int
}

// page copies page p with its inherited attributes resolved and reparents
// it under parent.
func (c *objCopier) page(p, parent int) (types.IndirectRef, error) {
	src, srcRef, inh, err := c.ctx.PageDict(p, false)
	if err != nil {
		return types.IndirectRef{}, err
	}
	if src == nil {
		return types.IndirectRef{}, fmt.Errorf("page %d not found", p)
	}

	nr := c.w.alloc()
	if srcRef != nil {
		c.seen[srcRef.ObjectNumber.Value()] = nr
	}

	d := types.NewDict()
	for k, v := range src {
		if k == "Parent" {
			continue
		}
		d[k] = v
	}
	if inh != nil {
		if _, ok := d["Resources"]; !ok && inh.Resources != nil {
			d["Resources"] = inh.Resources
		}
		if _, ok := d["MediaBox"]; !ok && inh.MediaBox != nil {
			d["MediaBox"] = inh.MediaBox.Array()
		}
		if _, ok := d["CropBox"]; !ok && inh.CropBox != nil {
			d["CropBox"] = inh.CropBox.Array()
		}
		if _, ok := d["Rotate"]; !ok && inh.Rotate != 0 {
			d["Rotate"] = types.Integer(inh.Rotate)
		}
	}

	out, err := c.dict(d)
	if err != nil {
		return types.IndirectRef{}, err
	}
	out["Parent"] = ref(parent)
	c.w.set(nr, out)
	return ref(nr), nil
}

// dict copies d, visiting keys in sorted order so numbering is stable.
func (c *objCopier) dict(d types.Dict) (types.Dict, error) {
	out := types.NewDict()
	for _, k := range slices.Sorted(maps.Keys(d)) {
		v, err := c.copy(d[k])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (c *objCopier) copy(o types.Object) (types.Object, error) {
	switch o := o.(type) {
	case types.IndirectRef:
		return c.indirect(o)
	case types.Dict:
		return c.dict(o)
	case types.Array:
		out := make(types.Array, len(o))
		for i, v := range o {
			cv, err := c.copy(v)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	case types.StreamDict:
		src := maps.Clone(o.Dict)
		delete(src, "Length")
		d, err := c.dict(src)
		if err != nil {
			return nil, err
		}
		d["Length"] = types.Integer(len(o.Raw))
		return types.StreamDict{Dict: d, Raw: o.Raw}, nil
	default:
		return o, nil
	}
}

func (c *objCopier) indirect(ir types.IndirectRef) (types.Object, error) {
	srcNr := ir.ObjectNumber.Value()
	if nr, ok := c.seen[srcNr]; ok {
		return ref(nr), nil
	}
	nr := c.w.alloc()
	c.seen[srcNr] = nr

	obj, err := c.ctx.Dereference(ir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve object %d: %w", srcNr, err)
	}
	out, err := c.copy(obj)
	if err != nil {
		return nil, err
	}
	c.w.set(nr, out)
	return ref(nr), nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), pdfConfig())
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}
