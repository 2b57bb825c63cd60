package errorsx

// Kind is a short machine-readable error category.
type Kind string

const (
	KindUnknown    Kind = "unknown"
	KindValidation Kind = "validation"
	KindProvider   Kind = "provider"
	KindTelephony  Kind = "telephony"
	KindNotFound   Kind = "not_found"
	KindStorage    Kind = "storage"
)

// Subsystem names reported back to callers when an external system fails.
const (
	SubsystemSpeech    = "speech"
	SubsystemTelephony = "telephony"
	SubsystemAudio     = "audio_store"
	SubsystemStore     = "call_store"
)
