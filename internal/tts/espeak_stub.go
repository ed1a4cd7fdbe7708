//go:build noespeak

package tts

type Espeak struct{}

func OpenEspeak(string, int) (*Espeak, error) { return nil, ErrUnavailable }

func (e *Espeak) Say(string) error { return ErrUnavailable }
func (e *Espeak) Stop()            {}
func (e *Espeak) Close()           {}
