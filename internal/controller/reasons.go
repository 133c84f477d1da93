package controller

// Actions that a manual override can block individually.
const (
	ActionOpen      = "open"
	ActionClose     = "close"
	ActionVentilate = "ventilation"
	ActionShading   = "shading"
)

// Reasons attached to every position command. The reason drives external
// status attributes and internal re-entry guards: manual-flavored reasons are
// only cleared by manual paths.
const (
	ReasonIdle                  = "idle"
	ReasonScheduledOpen         = "scheduled_open"
	ReasonScheduledClose        = "scheduled_close"
	ReasonSunOpen               = "sun_open"
	ReasonSunClose              = "sun_close"
	ReasonBrightnessOpen        = "brightness_open"
	ReasonBrightnessClose       = "brightness_close"
	ReasonVentilation           = "ventilation"
	ReasonVentilationFull       = "ventilation_full"
	ReasonVentilationStart      = "ventilation_start"
	ReasonVentilationStop       = "ventilation_stop"
	ReasonVentilationEndClose   = "ventilation_end_close"
	ReasonShading               = "shading"
	ReasonShadingEndOpen        = "shading_end_open"
	ReasonShadingEndClose       = "shading_end_close"
	ReasonShadingEndVentilation = "shading_end_ventilation"
	ReasonManualShading         = "manual_shading"
	ReasonManualShadingEnd      = "manual_shading_end"
	ReasonManualOverride        = "manual_override"
	ReasonResidentAsleep        = "resident_asleep"
	ReasonForceOpen             = "force_open"
	ReasonForceClose            = "force_close"
	ReasonRecalibrateOpen       = "recalibrate_open"
	ReasonRecalibrateRestore    = "recalibrate_restore"
)

func manualReason(reason string) bool {
	return reason == ReasonManualOverride || reason == ReasonManualShading
}

func ventilationReason(reason string) bool {
	return reason == ReasonVentilation || reason == ReasonVentilationFull
}

func shadingReason(reason string) bool {
	return reason == ReasonShading || reason == ReasonManualShading
}
