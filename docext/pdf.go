package docext

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pearl-OS/PearlOS-sub006/trace"
)

// Selection thresholds. Text at or above acceptRatio is trusted as-is;
// anything at or below shortTextLimit is too small for the ratio to mean
// much and is accepted rather than escalated.
const (
	viableLength    = 10
	acceptRatio     = 0.5
	shortTextLimit  = 50
	ocrAcceptLength = 50
	sampleLimit     = 200
)

// candidate is the scored output of one (decoder, strategy) pair.
type candidate struct {
	decoder  decoderID
	strategy string
	family   strategyFamily
	order    int
	text     string
	readable int
	ratio    float64
}

// pdfOutcome carries an accepted extraction back to the dispatcher.
type pdfOutcome struct {
	text    string
	method  Method
	quality Quality
}

// extractPDF runs the recovery engine: parse the document structure once,
// attempt every (decoder, strategy) pair in declared order, score the
// candidates, then accept the best text directly, escalate to OCR, or fail
// with a diagnosis of what the file contains.
func (p *Processor) extractPDF(ctx context.Context, name string, data []byte) (pdfOutcome, error) {
	p.progress("Analyzing PDF structure")
	doc := parsePDF(data, p.logger)

	p.progress("Recovering text")
	cands := p.collectCandidates(ctx, name, doc)
	if err := ctx.Err(); err != nil {
		return pdfOutcome{}, err
	}

	best := selectBest(cands)
	if best != nil {
		p.logger.Debug("pdf best candidate",
			"file", name,
			"strategy", best.strategy,
			"decoder", string(best.decoder),
			"ratio", best.ratio,
			"chars", len(best.text))
	}

	if best != nil && !p.cfg.ForceOCR &&
		(best.ratio >= acceptRatio || len(best.text) <= shortTextLimit) {
		return pdfOutcome{
			text:    best.text,
			method:  MethodText,
			quality: docQuality(doc, best.text, best),
		}, nil
	}

	escalate := p.cfg.ForceOCR || best == nil ||
		(best.ratio < acceptRatio && len(best.text) > shortTextLimit)

	if escalate && !p.cfg.DisableOCR {
		p.progress("Escalating to OCR")
		text, err := p.ocrDocument(ctx, name, data)
		if err == nil && len(text) > ocrAcceptLength {
			return pdfOutcome{
				text:    text,
				method:  MethodOCR,
				quality: docQuality(doc, text, nil),
			}, nil
		}
		if err := ctx.Err(); err != nil {
			return pdfOutcome{}, err
		}
		if p.cfg.ForceOCR {
			if err != nil {
				return pdfOutcome{}, fmt.Errorf("%w: forced OCR produced no text: %v", ErrOCRFailed, err)
			}
			return pdfOutcome{}, fmt.Errorf("%w: forced OCR recovered only %d characters", ErrOCRFailed, len(text))
		}
		if err != nil {
			p.logger.Warn("ocr fallback failed", "file", name, "error", err)
		}
	}

	return pdfOutcome{quality: docQuality(doc, "", best)},
		fmt.Errorf("%w: %s", ErrExtractionFailed, diagnosePDF(doc, best))
}

// rawOnlyDecoders pairs raw-bytes strategies with the one byte-transparent
// decoder, so their attempt runs exactly once.
var rawOnlyDecoders = []decoderID{decLatin1}

// collectCandidates drives the declarative pair loop. Decoded views are
// built lazily and shared across strategies; every attempt, viable or not,
// goes to the trace recorder.
func (p *Processor) collectCandidates(ctx context.Context, name string, doc *pdfDoc) []candidate {
	views := make(map[decoderID]string, len(pdfDecoders))
	decodedView := func(id decoderID) string {
		if v, ok := views[id]; ok {
			return v
		}
		v := decodeBuffer(id, doc.raw)
		views[id] = v
		return v
	}

	var cands []candidate
	order := 0
	for _, strat := range pdfStrategies {
		decoders := pdfDecoders
		if strat.rawOnly {
			decoders = rawOnlyDecoders
		}
		for _, dec := range decoders {
			if ctx.Err() != nil {
				return cands
			}
			order++

			view := ""
			if !strat.rawOnly {
				view = decodedView(dec)
			}

			start := time.Now()
			text, ok := runStrategy(strat, doc, view)
			attempt := trace.Attempt{
				FileName:   name,
				DocType:    string(TypePDF),
				Method:     string(MethodText),
				Strategy:   strat.id + "+" + string(dec),
				DurationUs: time.Since(start).Microseconds(),
			}

			if !ok || len(text) <= viableLength {
				attempt.Error = "no viable text"
				p.record(attempt)
				continue
			}

			count, ratio := readableStats(text)
			attempt.Score = ratio
			attempt.Sample = sampleOf(text)
			p.record(attempt)

			cands = append(cands, candidate{
				decoder:  dec,
				strategy: strat.id,
				family:   strat.family,
				order:    order,
				text:     text,
				readable: count,
				ratio:    ratio,
			})
		}
	}
	return cands
}

// runStrategy shields the engine from strategy panics; a panicking
// strategy simply contributes no candidate.
func runStrategy(s pdfStrategy, d *pdfDoc, view string) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = "", false
		}
	}()
	return s.run(d, view)
}

// selectBest picks the winner: highest readable ratio, ties broken by
// readable count, remaining ties by attempt order. A low-confidence winner
// yields to a structural candidate that is directly acceptable, so cipher
// guesses never shadow real structure.
func selectBest(cands []candidate) *candidate {
	pick := func(keep func(*candidate) bool) *candidate {
		var best *candidate
		for i := range cands {
			c := &cands[i]
			if !keep(c) {
				continue
			}
			if best == nil || c.ratio > best.ratio ||
				(c.ratio == best.ratio && c.readable > best.readable) {
				best = c
			}
		}
		return best
	}

	best := pick(func(*candidate) bool { return true })
	if best == nil || best.family != famLowConfidence {
		return best
	}
	structural := pick(func(c *candidate) bool { return c.family == famStructural })
	if structural != nil && structural.ratio >= acceptRatio {
		return structural
	}
	return best
}

// diagnosePDF explains a failed extraction in terms of what the file
// actually contains, so the caller can tell a scanned document from a
// broken font from an empty shell.
func diagnosePDF(d *pdfDoc, best *candidate) string {
	var parts []string
	if d.hasFontMap && best != nil && best.ratio < acceptRatio {
		parts = append(parts, "custom font encoding suspected")
	}
	if d.hasTextOps {
		parts = append(parts, "text objects present but unreadable")
	} else {
		parts = append(parts, "no text objects found")
	}
	if d.hasStreams {
		parts = append(parts, fmt.Sprintf("%d content streams scanned", countStreams(d)))
	} else {
		parts = append(parts, "no content streams found")
	}

	detail := strings.Join(parts, "; ")
	if best == nil {
		return "no text candidates recovered (" + detail + ")"
	}
	return fmt.Sprintf("best candidate only %.0f%% readable (%s)", best.ratio*100, detail)
}

func countStreams(d *pdfDoc) int {
	n := 0
	for i := range d.objects {
		if d.objects[i].payload != nil {
			n++
		}
	}
	return n
}

// docQuality assembles the quality block logged and traced with each PDF
// outcome. Winner stats are reused when available so the reported ratio
// matches the selection decision.
func docQuality(d *pdfDoc, text string, best *candidate) Quality {
	count, ratio := readableStats(text)
	if best != nil {
		count, ratio = best.readable, best.ratio
	}
	return Quality{
		PageCount:       d.pageCount,
		ReadableRatio:   ratio,
		ReadableCount:   count,
		PrintableRatio:  computePrintableRatio(text),
		WordlikeRatio:   computeWordlikeRatio(text),
		HasImageStreams: d.hasImages,
	}
}

// record forwards one attempt to the trace recorder, filling in identity
// and time.
func (p *Processor) record(a trace.Attempt) {
	if p.rec == nil {
		return
	}
	if a.ID == "" {
		a.ID = p.idg()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	p.rec.Record(a)
}

// sampleOf truncates text for the trace store, cutting on a rune boundary.
func sampleOf(text string) string {
	if len(text) <= sampleLimit {
		return text
	}
	cut := sampleLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
