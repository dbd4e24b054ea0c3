// Package extract implements the narrative extraction pipeline: chapter
// segmentation, character detection, and narrative event extraction over an
// uploaded manuscript. Each stage reports its results as progress chunks so
// observers can follow a job in real time.
package extract
