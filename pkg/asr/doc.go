// Package asr is a client for speech recognition servers that speak the ASR 2.4
// websocket protocol.
//
// A Recognizer owns one server session. Recognize starts a recognition and streams
// audio in the background; WaitRecognitionResult blocks for the final results.
// Only one recognition may be pending per Recognizer.
package asr
