// Package fault classifies a sample and its recent window into a single
// FaultFinding.
//
// Checks run in fixed priority and the first match wins:
//
//  1. range: first channel (pm25, co2, co, voc) outside its inclusive bounds; severity high
//  2. stuck: first channel whose last StuckThreshold values are identical,
//     evaluated only once the window holds at least that many samples; severity medium
//  3. consistency: high particulate with near-zero CO and VOC implicates pm25,
//     then high CO with low CO2 implicates co; severity medium
//
// Anything else is a no-fault finding with severity low. The fan-ineffective
// kind is declared in pkg/types but never produced here.
//
// Detect is pure. Detector wraps it with a threshold set that can be swapped
// atomically on config reload.
package fault
