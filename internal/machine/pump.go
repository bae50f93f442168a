package machine

import (
	"errors"
	"io"

	"github.com/rs/zerolog"

	"patter/internal/ports"
)

// pumpAudio reads PCM chunks from the microphone and forwards them over the
// session until the capture is stopped or the transport fails. Transport
// failures surface through the session's transport channel, so the pump only
// has to stop streaming.
func pumpAudio(
	audio ports.AudioSession,
	session ports.Session,
	chunkSize int,
	log zerolog.Logger,
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := session.SendAudio(buf[:n]); sendErr != nil {
				log.Debug().Err(sendErr).Msg("audio pump stopped, send failed")
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Msg("audio capture error")
			}
			return
		}
	}
}
