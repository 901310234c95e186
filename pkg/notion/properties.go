package notion

import (
	"strings"
	"time"

	"github.com/jomei/notionapi"
)

// Title builds a title property.
func Title(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: richText(s),
	}
}

// Text builds a rich text property.
func Text(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: richText(s),
	}
}

// Select builds a select property.
func Select(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: name},
	}
}

// MultiSelect builds a multi-select property.
func MultiSelect(names ...string) notionapi.MultiSelectProperty {
	opts := make([]notionapi.Option, 0, len(names))
	for _, n := range names {
		opts = append(opts, notionapi.Option{Name: n})
	}
	return notionapi.MultiSelectProperty{
		Type:        notionapi.PropertyTypeMultiSelect,
		MultiSelect: opts,
	}
}

// Number builds a number property.
func Number(v float64) notionapi.NumberProperty {
	return notionapi.NumberProperty{
		Type:   notionapi.PropertyTypeNumber,
		Number: v,
	}
}

// Date builds a date property starting at t.
func Date(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t.UTC())
	return notionapi.DateProperty{
		Type: notionapi.PropertyTypeDate,
		Date: &notionapi.DateObject{Start: &d},
	}
}

// PlainText concatenates the plain text of rich text segments. Segments built
// locally carry only Text.Content, so it is used when PlainText is empty.
func PlainText(rts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range rts {
		switch {
		case rt.PlainText != "":
			b.WriteString(rt.PlainText)
		case rt.Text != nil:
			b.WriteString(rt.Text.Content)
		}
	}
	return b.String()
}

// TextValue reads a title or rich text property from a page as plain text.
func TextValue(p notionapi.Page, property string) string {
	switch v := p.Properties[property].(type) {
	case *notionapi.RichTextProperty:
		return PlainText(v.RichText)
	case notionapi.RichTextProperty:
		return PlainText(v.RichText)
	case *notionapi.TitleProperty:
		return PlainText(v.Title)
	case notionapi.TitleProperty:
		return PlainText(v.Title)
	}
	return ""
}

// Notion caps a single rich text segment at 2000 characters.
const maxSegment = 2000

func richText(s string) []notionapi.RichText {
	var out []notionapi.RichText
	runes := []rune(s)
	for len(runes) > 0 {
		n := min(len(runes), maxSegment)
		out = append(out, notionapi.RichText{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: string(runes[:n])},
		})
		runes = runes[n:]
	}
	if out == nil {
		out = []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: ""}}}
	}
	return out
}
