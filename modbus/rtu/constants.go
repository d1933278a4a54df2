// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// Frame size bounds for an RTU ADU: slave id (1) + function code (1) +
// payload + CRC (2). The simulator never constructs frames outside
// this range; anything bigger is rejected before it reaches the
// dispatcher or client engine.
const (
	MinSize = 4
	MaxSize = 256
)
