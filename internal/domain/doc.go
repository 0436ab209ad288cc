// Package domain contains the core business entities, value objects, and
// domain logic of the batch generation engine: batch tasks, their items
// and results, download jobs, and the validation rules that keep them
// consistent. It represents the heart of the system, independent of any
// specific infrastructure or delivery mechanism.
//
// State transitions on these entities are driven exclusively by the
// scheduler and download packages; observers only ever see deep copies.
package domain
