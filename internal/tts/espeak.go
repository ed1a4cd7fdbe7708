//go:build !noespeak

package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

static int
lumen_espeak_init(const char *voice, int rate)
{
	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -1; }

	espeak_VOICE specs = { 0 };
	specs.languages = voice;
	if (espeak_SetVoiceByProperties(&specs) != EE_OK)
	{ return -2; }

	if (rate > 0)
	{ espeak_SetParameter(espeakRATE, rate, 0); }

	return 0;
}

static int
lumen_espeak_say(const char *text)
{
	if (!text)
	{ return -1; }

	if (espeak_Synth(text, 0, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL) != EE_OK)
	{ return -2; }

	espeak_Synchronize();
	return 0;
}

static void
lumen_espeak_stop(void)
{
	espeak_Cancel();
}

static void
lumen_espeak_close(void)
{
	espeak_Terminate();
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Espeak is the espeak-ng engine. Only one may be open per process.
type Espeak struct{}

// OpenEspeak initializes espeak-ng with a voice language such as "en" and a
// rate in words per minute (0 keeps the default).
func OpenEspeak(voice string, rate int) (*Espeak, error) {
	if voice == "" {
		voice = "en"
	}
	cvoice := C.CString(voice)
	defer C.free(unsafe.Pointer(cvoice))

	if rc := C.lumen_espeak_init(cvoice, C.int(rate)); rc != 0 {
		return nil, fmt.Errorf("espeak init failed: %d", int(rc))
	}
	return &Espeak{}, nil
}

func (e *Espeak) Say(text string) error {
	if text == "" {
		return nil
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	if rc := C.lumen_espeak_say(ctext); rc != 0 {
		return fmt.Errorf("espeak say failed: %d", int(rc))
	}
	return nil
}

func (e *Espeak) Stop() {
	C.lumen_espeak_stop()
}

func (e *Espeak) Close() {
	C.lumen_espeak_close()
}
