package components

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/mpataki/xnmt/internal/options"
	"github.com/mpataki/xnmt/internal/params"
	"github.com/mpataki/xnmt/internal/serializer"
)

// Pair is one aligned sentence pair.
type Pair struct {
	Src []string
	Trg []string
}

// BilingualCorpus names the training and development files.
type BilingualCorpus struct {
	TrainSrc string
	TrainTrg string
	DevSrc   string
	DevTrg   string
}

var bilingualCorpusSchema = serializer.Schema{
	{Name: "train_src", Kind: serializer.String, Required: true},
	{Name: "train_trg", Kind: serializer.String, Required: true},
	{Name: "dev_src", Kind: serializer.String},
	{Name: "dev_trg", Kind: serializer.String},
}

func newBilingualCorpus(args options.Values, _ *params.Context) (any, error) {
	c := &BilingualCorpus{}
	var err error
	if c.TrainSrc, err = args.String("train_src"); err != nil {
		return nil, err
	}
	if c.TrainTrg, err = args.String("train_trg"); err != nil {
		return nil, err
	}
	if c.DevSrc, err = args.String("dev_src"); err != nil {
		return nil, err
	}
	if c.DevTrg, err = args.String("dev_trg"); err != nil {
		return nil, err
	}
	if (c.DevSrc == "") != (c.DevTrg == "") {
		return nil, errors.New("dev_src and dev_trg must be given together")
	}
	return c, nil
}

// HasDev reports whether a development set is configured.
func (c *BilingualCorpus) HasDev() bool {
	return c.DevSrc != ""
}

// PlainTextReader reads one whitespace-tokenized sentence per line.
type PlainTextReader struct {
	Lowercase bool
}

var plainTextReaderSchema = serializer.Schema{
	{Name: "lowercase", Kind: serializer.Bool, Default: false},
}

func newPlainTextReader(args options.Values, _ *params.Context) (any, error) {
	lower, err := args.Bool("lowercase")
	if err != nil {
		return nil, err
	}
	return &PlainTextReader{Lowercase: lower}, nil
}

// ReadSentences reads every line of path as a token sequence.
func (r *PlainTextReader) ReadSentences(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	var out [][]string
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if r.Lowercase {
			line = strings.ToLower(line)
		}
		out = append(out, strings.Fields(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return out, nil
}

// BilingualCorpusParser reads aligned source and target files.
type BilingualCorpusParser struct {
	SrcReader *PlainTextReader
	TrgReader *PlainTextReader
	MaxSrcLen int
	MaxTrgLen int
}

var corpusParserSchema = serializer.Schema{
	{Name: "src_reader", Kind: serializer.ObjectKind},
	{Name: "trg_reader", Kind: serializer.ObjectKind},
	{Name: "max_src_len", Kind: serializer.Int, Default: 0},
	{Name: "max_trg_len", Kind: serializer.Int, Default: 0},
}

func newCorpusParser(args options.Values, _ *params.Context) (any, error) {
	p := &BilingualCorpusParser{SrcReader: &PlainTextReader{}, TrgReader: &PlainTextReader{}}
	if v, ok := args.Get("src_reader"); ok && v != nil {
		r, ok := v.(*PlainTextReader)
		if !ok {
			return nil, errors.Errorf("src_reader: expected PlainTextReader, got %T", v)
		}
		p.SrcReader = r
	}
	if v, ok := args.Get("trg_reader"); ok && v != nil {
		r, ok := v.(*PlainTextReader)
		if !ok {
			return nil, errors.Errorf("trg_reader: expected PlainTextReader, got %T", v)
		}
		p.TrgReader = r
	}
	var err error
	if p.MaxSrcLen, err = args.Int("max_src_len"); err != nil {
		return nil, err
	}
	if p.MaxTrgLen, err = args.Int("max_trg_len"); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadParallel reads aligned files. Pairs exceeding the length limits are
// dropped.
func (p *BilingualCorpusParser) ReadParallel(srcFile, trgFile string) ([]Pair, error) {
	src, err := p.SrcReader.ReadSentences(srcFile)
	if err != nil {
		return nil, err
	}
	trg, err := p.TrgReader.ReadSentences(trgFile)
	if err != nil {
		return nil, err
	}
	if len(src) != len(trg) {
		return nil, errors.Errorf("%s has %d lines but %s has %d", srcFile, len(src), trgFile, len(trg))
	}
	pairs := make([]Pair, 0, len(src))
	for i := range src {
		if p.MaxSrcLen > 0 && len(src[i]) > p.MaxSrcLen {
			continue
		}
		if p.MaxTrgLen > 0 && len(trg[i]) > p.MaxTrgLen {
			continue
		}
		pairs = append(pairs, Pair{Src: src[i], Trg: trg[i]})
	}
	return pairs, nil
}

// ReadSource reads a source-side file for decoding.
func (p *BilingualCorpusParser) ReadSource(path string) ([][]string, error) {
	return p.SrcReader.ReadSentences(path)
}
