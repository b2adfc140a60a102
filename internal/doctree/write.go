package doctree

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// WriteXML serializes the document element with the prefixes and namespace
// declarations it was parsed with. The document type declaration is not
// written; defaulted attributes are.
func (d *Document) WriteXML(w io.Writer) error {
	if d == nil || d.Root == nil {
		return fmt.Errorf("write xml: document has no root element")
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(xml.Header); err != nil {
		return fmt.Errorf("write xml: %w", err)
	}
	if err := writeElement(bw, d.Root); err != nil {
		return fmt.Errorf("write xml: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write xml: %w", err)
	}
	return nil
}

// String renders the document for diagnostics.
func (d *Document) String() string {
	var sb strings.Builder
	if err := d.WriteXML(&sb); err != nil {
		return err.Error()
	}
	return sb.String()
}

func writeElement(w *bufio.Writer, e *Element) error {
	w.WriteByte('<')
	w.WriteString(e.QName())
	for _, a := range e.Attrs {
		w.WriteByte(' ')
		w.WriteString(a.QName())
		w.WriteString(`="`)
		if err := escapeAttr(w, a.Value); err != nil {
			return err
		}
		w.WriteByte('"')
	}
	if len(e.Children) == 0 {
		_, err := w.WriteString("/>")
		return err
	}
	w.WriteByte('>')
	for _, c := range e.Children {
		switch c := c.(type) {
		case *Element:
			if err := writeElement(w, c); err != nil {
				return err
			}
		case *Text:
			if err := xml.EscapeText(w, []byte(c.Data)); err != nil {
				return err
			}
		case *Comment:
			w.WriteString("<!--")
			w.WriteString(c.Data)
			w.WriteString("-->")
		case *ProcInst:
			w.WriteString("<?")
			w.WriteString(c.Target)
			if c.Inst != "" {
				w.WriteByte(' ')
				w.WriteString(c.Inst)
			}
			w.WriteString("?>")
		}
	}
	w.WriteString("</")
	w.WriteString(e.QName())
	_, err := w.WriteString(">")
	return err
}

// escapeAttr escapes an attribute value, including the whitespace characters
// that attribute value normalization would otherwise fold into spaces.
func escapeAttr(w *bufio.Writer, s string) error {
	for _, r := range s {
		var err error
		switch r {
		case '&':
			_, err = w.WriteString("&amp;")
		case '<':
			_, err = w.WriteString("&lt;")
		case '>':
			_, err = w.WriteString("&gt;")
		case '"':
			_, err = w.WriteString("&quot;")
		case '\t':
			_, err = w.WriteString("&#x9;")
		case '\n':
			_, err = w.WriteString("&#xA;")
		case '\r':
			_, err = w.WriteString("&#xD;")
		default:
			_, err = w.WriteRune(r)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
