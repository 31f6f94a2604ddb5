// Package builtin provides utility appliances shipped with the countertop
// binary: a line-oriented text file source, sentence and word splitters,
// and a logging sink. They are enough to run an end-to-end pipeline
// without external appliance code.
package builtin

import (
	"github.com/c360/countertop/appliance"
	"github.com/c360/countertop/payload"
)

// Descriptors returns every built-in appliance class.
func Descriptors() []appliance.Descriptor {
	return []appliance.Descriptor{
		{
			Name:        "TextFile",
			Description: "Emits each line of a text file as a TEXT.BLOB",
			OutputTypes: []string{payload.TypeTextBlob},
			Factory:     newTextFile,
		},
		{
			Name:        "SentenceSplitter",
			Description: "Splits TEXT.BLOB payloads into TEXT.SENTENCE payloads",
			InputTypes:  []string{payload.TypeTextBlob},
			OutputTypes: []string{payload.TypeTextSentence},
			Factory:     newSentenceSplitter,
		},
		{
			Name:        "WordSplitter",
			Description: "Splits TEXT.SENTENCE payloads into TEXT.WORD payloads",
			InputTypes:  []string{payload.TypeTextSentence},
			OutputTypes: []string{payload.TypeTextWord},
			Factory:     newWordSplitter,
		},
		{
			Name:        "LogSink",
			Description: "Logs every text payload it receives",
			InputTypes:  []string{payload.TypeTextAtom, payload.TypeTextSentence, payload.TypeTextWord},
			Factory:     newLogSink,
		},
	}
}

// Register adds the built-in classes to r.
func Register(r *appliance.Registry) error {
	for _, d := range Descriptors() {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
