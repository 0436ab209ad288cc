// Package gemini implements the generation.Backend interface using
// Google's Gemini API. Text-to-image requests go through the image
// generation endpoint; image-to-image requests are sent as multimodal
// content with the source images inlined. Results are returned as data
// URLs carrying the generated image bytes.
package gemini
