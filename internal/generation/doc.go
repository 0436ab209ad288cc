// Package generation provides interfaces and implementations for interacting
// with external image-generation services. It abstracts the details of the
// provider APIs (Gemini, DALL·E-compatible endpoints), allowing the scheduler
// to dispatch generation requests without coupling to specific external
// services. A backend is selected once per task, by model family, through
// the Registry.
package generation
