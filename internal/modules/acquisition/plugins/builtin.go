package plugins

// Built-in plugin identifiers.
const (
	ScanGlob         = "glob"
	ScanRegex        = "regex"
	ScanStream       = "stream"
	ValidateReadable = "readable"
	ValidateMimeType = "mime-type"
	NameStripExt     = "strip-extension"
	NameRegexGroup   = "regex-group"
	GenerateDefault  = "default"
	PostProcessNoop  = "noop"
	PostProcessMove  = "move"
)

// RegisterBuiltins adds the compiled-in plugins to r.
func RegisterBuiltins(r *Registry) error {
	defs := []Definition{
		{ID: ScanGlob, Kind: KindScan, Description: "walks dirs for files matching a glob pattern, streamed", New: newGlobScanner},
		{ID: ScanStream, Kind: KindScan, Description: "lazy recursive walk of dirs", New: newStreamScanner},
		{ID: ScanRegex, Kind: KindScan, Description: "lists one directory, reporting entries not matching a regex", New: newRegexScanner},
		{ID: ValidateReadable, Kind: KindValidation, Description: "accepts existing readable regular files", New: newReadableValidator},
		{ID: ValidateMimeType, Kind: KindValidation, Description: "accepts files whose sniffed MIME type is allowed", New: newMimeValidator},
		{ID: NameStripExt, Kind: KindNaming, Description: "file name without extension, truncated", New: newStripExtensionNamer},
		{ID: NameRegexGroup, Kind: KindNaming, Description: "capture group of a regex on the file name", New: newRegexGroupNamer},
		{ID: GenerateDefault, Kind: KindGeneration, Description: "JSON SIP describing the acquired files", New: newDefaultGenerator},
		{ID: PostProcessNoop, Kind: KindPostProcessing, Description: "does nothing", New: newNoopPostProcessor},
		{ID: PostProcessMove, Kind: KindPostProcessing, Description: "moves acquired files under a target directory", New: newMovePostProcessor},
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry holding every built-in plugin.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	return r
}
