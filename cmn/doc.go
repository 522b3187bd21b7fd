// Package cmn provides common low-level types and utilities shared by every
// faststore package: assertions, typed errors, logging verbosity gates, and
// the small-buffer-optimized slice helper used on hot read/write paths.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cmn
