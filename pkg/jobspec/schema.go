// Package jobspec defines the JSON job document accepted by the spool service
package jobspec

// Version is the only supported document version
const Version = "1.0"

// Document describes one complete submission: where to print, how to
// batch, what to append and which sink to use.
type Document struct {
	Version string `json:"version"`
	Name    string `json:"name,omitempty"`

	// Printer is a discovery filter. Empty selects the default destination.
	// It is ignored by the file and host outputs.
	Printer string `json:"printer,omitempty"`

	Encoding          string `json:"encoding,omitempty"`
	EndOfDocument     string `json:"end_of_document,omitempty"`
	DocumentsPerSpool int    `json:"documents_per_spool,omitempty"`

	Paper    *Paper    `json:"paper,omitempty"`
	Elements []Element `json:"elements"`
	Output   Output    `json:"output"`
}

// Paper holds page settings for the rendered outputs
type Paper struct {
	Size        string  `json:"size,omitempty"` // letter, a4, 4x6 ...
	Width       float64 `json:"width,omitempty"`
	Height      float64 `json:"height,omitempty"`
	Units       string  `json:"units,omitempty"` // in, mm, pt
	Orientation string  `json:"orientation,omitempty"`
	AutoSize    bool    `json:"auto_size,omitempty"`
}

// Element types
const (
	TypeText    = "text"
	TypeHex     = "hex"
	TypeBase64  = "base64"
	TypeHTML    = "html"
	TypeImage   = "image"
	TypeFile    = "file"
	TypeXML     = "xml"
	TypePDF     = "pdf"
	TypeBarcode = "barcode"
	TypeQRCode  = "qrcode"
)

// Element is one append. Data is inline content for text, hex, base64,
// html, barcode and qrcode; a URL, path or data URI otherwise.
type Element struct {
	Type string `json:"type"`
	Data string `json:"data"`

	Tag    string `json:"tag,omitempty"`    // xml
	Format string `json:"format,omitempty"` // barcode
	Level  string `json:"level,omitempty"`  // qrcode

	// raster conversion
	Lang      string `json:"lang,omitempty"`    // escp, epl, zpl
	Density   string `json:"density,omitempty"` // single, double, triple
	X         int    `json:"x,omitempty"`
	Y         int    `json:"y,omitempty"`
	Threshold int    `json:"threshold,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Output modes
const (
	OutputRaw  = "raw"
	OutputPS   = "ps"
	OutputHTML = "html"
	OutputFile = "file"
	OutputHost = "host"
)

// Output selects the sink
type Output struct {
	Mode string `json:"mode"`
	Path string `json:"path,omitempty"`
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}
