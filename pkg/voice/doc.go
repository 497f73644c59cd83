// Package voice runs the spoken conversation loop.
//
// A Loop repeats one turn at a time: recognize an utterance, classify its
// intent, stream a completion for it, cut the completion into sentence
// units and speak each unit as soon as it is complete. Synthesis of one
// sentence overlaps generation of the next through a small bounded queue.
//
// # Usage
//
//	loop, err := voice.NewLoop(voice.Deps{
//	    Recognizer: recognizer,
//	    Classifier: classifier,
//	    Generator:  generator,
//	    Speaker:    synthesizer,
//	},
//	    voice.WithStopPhrase("stop"),
//	    voice.WithSpeechRate("+10%"),
//	    voice.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//
//	loop.OnStateChange(func(from, to voice.State) {
//	    logger.Debug("state", "from", from, "to", to)
//	})
//
//	// Run returns nil after the stop phrase or when the microphone closes.
//	if err := loop.Run(ctx); err != nil {
//	    return err
//	}
//
// # Failure handling
//
// A failed turn (classification, generation or synthesis) is logged and
// the loop goes back to listening. Only the stop phrase, the end of audio
// input and cancellation of the Run context end the loop.
//
// # Latency Metrics
//
// Each turn is measured from the end of speech:
//
//	m := loop.Metrics().Current()
//	fmt.Println(m.FormatLatency())
//	// 180ms STT | 420ms INTENT | 650ms LLM | 910ms TTS | 3.2s TOTAL
package voice
